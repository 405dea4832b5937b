package i18n

import "strings"

var translations = map[string]string{
	"invalid request":                     "درخواست نامعتبر است",
	"unauthorized":                        "دسترسی غیرمجاز",
	"missing authorization token":         "توکن احراز هویت ارسال نشده است",
	"invalid token":                       "توکن نامعتبر است",
	"failed to generate token":            "خطا در تولید توکن",
	"user not found":                      "کاربر یافت نشد",
	"recipient not found":                 "گیرنده یافت نشد",
	"invalid user kind":                   "نوع کاربر نامعتبر است",
	"cannot create conversation with yourself": "نمی توانید با خودتان مکالمه ایجاد کنید",
	"conversation not found":              "مکالمه یافت نشد",
	"access denied to this conversation":  "شما عضو این مکالمه نیستید",
	"invalid conversation id":             "شناسه مکالمه نامعتبر است",
	"failed to fetch conversations":       "خطا در دریافت مکالمه ها",
	"failed to fetch conversation":        "خطا در دریافت مکالمه",
	"failed to create conversation":       "خطا در ایجاد مکالمه",
	"failed to update conversation":       "خطا در به روزرسانی مکالمه",
	"invalid message id":                  "شناسه پیام نامعتبر است",
	"message not found":                   "پیام یافت نشد",
	"failed to fetch messages":            "خطا در دریافت پیام ها",
	"failed to send message":              "خطا در ارسال پیام",
	"failed to search messages":           "خطا در جستجوی پیام ها",
	"only the sender can delete a message": "فقط پیام های خودتان قابل حذف است",
	"message content is required":         "متن پیام الزامی است",
	"search query is required":            "عبارت جستجو الزامی است",
	"reaction is required":                "واکنش الزامی است",
	"invalid attachment id":               "شناسه پیوست نامعتبر است",
	"invalid message category":            "دسته بندی پیام نامعتبر است",
	"invalid priority":                    "اولویت پیام نامعتبر است",
	"only office can publish events":      "فقط دفتر مجاز به انتشار رویداد است",
	"class_id or user_id is required":     "شناسه کلاس یا کاربر الزامی است",
	"push notifications not configured":   "اعلان ها پیکربندی نشده اند",
	"failed to validate user":             "خطا در بررسی کاربر",
	"class criteria requires a class name": "معیار کلاس نیازمند نام کلاس است",
	"department criteria requires a department": "معیار گروه آموزشی نیازمند نام گروه است",
	"failed to delete message":            "خطا در حذف پیام",
	"failed to forward message":           "خطا در هدایت پیام",
	"failed to update reaction":           "خطا در ثبت واکنش",
	"failed to pin message":               "خطا در سنجاق کردن پیام",
	"file is required":                    "فایل الزامی است",
	"file too large":                      "حجم فایل بیش از حد مجاز است",
	"file type not allowed":               "نوع فایل مجاز نیست",
	"dangerous file extension":            "پسوند فایل خطرناک است",
	"file failed security scan":           "فایل در بررسی امنیتی رد شد",
	"failed to upload attachment":         "خطا در بارگذاری پیوست",
	"attachment not found":                "پیوست یافت نشد",
	"failed to download attachment":       "خطا در دریافت پیوست",
	"only office can broadcast":           "فقط دفتر مجاز به ارسال گروهی است",
	"invalid broadcast id":                "شناسه پیام گروهی نامعتبر است",
	"broadcast not found":                 "پیام گروهی یافت نشد",
	"no recipients matched":               "هیچ گیرنده ای یافت نشد",
	"failed to send broadcast":            "خطا در ارسال پیام گروهی",
	"failed to fetch broadcasts":          "خطا در دریافت پیام های گروهی",
	"scheduled time must be in the future": "زمان ارسال باید در آینده باشد",
	"scheduled message not found":         "پیام زمان بندی شده یافت نشد",
	"failed to schedule message":          "خطا در زمان بندی پیام",
	"failed to fetch scheduled messages":  "خطا در دریافت پیام های زمان بندی شده",
	"failed to cancel scheduled message":  "خطا در لغو پیام زمان بندی شده",
	"network unavailable, try again":      "شبکه در دسترس نیست، دوباره تلاش کنید",
	"streaming unsupported":               "مرورگر شما از دریافت زنده پشتیبانی نمی کند",
	"failed to fetch users":               "خطا در دریافت کاربران",
	"failed to fetch profile":             "خطا در دریافت پروفایل",
	"rate limiter error":                  "خطا در محدودسازی درخواست ها",
	"rate limit exceeded":                 "تعداد درخواست ها بیش از حد مجاز است",
	"internal server error":               "خطای داخلی سرور",
	"not found":                           "یافت نشد",
	"invalid username or password":        "نام کاربری یا رمز عبور اشتباه است",
	"username already exists":             "این نام کاربری قبلا ثبت شده است",
	"username must be between 3 and 32 characters": "نام کاربری باید بین ۳ تا ۳۲ کاراکتر باشد",
	"username can only contain letters, numbers, and underscores": "نام کاربری فقط می تواند شامل حروف، اعداد و زیرخط باشد",
	"password must be at least 6 characters": "رمز عبور باید حداقل ۶ کاراکتر باشد",
}

var prefixTranslations = map[string]string{
	"failed to hash password:":  "خطا در پردازش رمز عبور",
	"failed to register user:":  "خطا در ثبت نام کاربر",
	"failed to query user:":     "خطا در دریافت اطلاعات کاربر",
	"failed to generate token:": "خطا در تولید توکن",
	"failed to sign token:":     "خطا در امضای توکن",
	"failed to parse token:":    "توکن نامعتبر است",
	"unknown user kind:":        "نوع کاربر نامعتبر است",
	"unknown message category:": "دسته بندی پیام نامعتبر است",
	"unknown priority:":         "اولویت پیام نامعتبر است",
	"unknown criteria type:":    "نوع معیار نامعتبر است",
}

func Translate(message string) string {
	if translated, ok := translations[message]; ok {
		return translated
	}
	for prefix, translated := range prefixTranslations {
		if strings.HasPrefix(message, prefix) {
			return translated
		}
	}
	return message
}
