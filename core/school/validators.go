package school

import (
	"fmt"
	"strings"
	"unicode"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/edusmart/core"
)

var (
	monthKeyTag  = "monthkey"
	monthKeyText = "month must be one of jan, feb, mar, apr, may, jun, jul, aug, sep, oct, nov, dec"

	attStatusTag  = "attstatus"
	attStatusText = "status must be one of present, absent, not-marked"

	feeStatusTag  = "feestatus"
	feeStatusText = "status must be one of paid, pending"

	// password policy
	pwdMinLen     = 6
	pwdMinLenTag  = "pwdminlen"
	pwdMinLenText = fmt.Sprintf("password must contain at least %d characters", pwdMinLen)

	pwdNoSpaceTag  = "pwdnospace"
	pwdNoSpaceText = "password must not contain whitespace"

	pwdNotAllNumTag  = "pwdnotallnum"
	pwdNotAllNumText = "password cannot be entirely numeric"

	pwdMaxSim      = .7
	pwdAttrSimTag  = "pwdtoosim"
	pwdAttrSimText = "password cannot be similar to the username or the school name"
)

// InitValidators registers the school validations on validate.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(monthKeyTag, monthKeyValidation)
	core.RegisterCustomTranslation(validate, translator, monthKeyTag, monthKeyText)

	_ = validate.RegisterValidation(attStatusTag, attStatusValidation)
	core.RegisterCustomTranslation(validate, translator, attStatusTag, attStatusText)

	_ = validate.RegisterValidation(feeStatusTag, feeStatusValidation)
	core.RegisterCustomTranslation(validate, translator, feeStatusTag, feeStatusText)

	_ = validate.RegisterValidation(pwdNoSpaceTag, pwdNoSpaceValidation)
	core.RegisterCustomTranslation(validate, translator, pwdNoSpaceTag, pwdNoSpaceText)

	validate.RegisterStructValidation(passwordStructValidation, Registration{}, AdminPassword{})
	core.RegisterCustomTranslation(validate, translator, pwdMinLenTag, pwdMinLenText)
	core.RegisterCustomTranslation(validate, translator, pwdNotAllNumTag, pwdNotAllNumText)
	core.RegisterCustomTranslation(validate, translator, pwdAttrSimTag, pwdAttrSimText)
}

// NewValidator returns a validator with the core and school validations registered.
func NewValidator(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	InitValidators(validate, translator)
	return validate
}

func IsMonthKey(s string) bool {
	for _, m := range MonthKeys {
		if s == m {
			return true
		}
	}
	return false
}

func IsAttendanceStatus(s string) bool {
	return s == StatusPresent || s == StatusAbsent || s == StatusNotMarked
}

func IsFeeStatus(s string) bool {
	return s == FeePaid || s == FeePending
}

// Custom Validators

func monthKeyValidation(fl validator.FieldLevel) bool {
	return IsMonthKey(fl.Field().String())
}

func attStatusValidation(fl validator.FieldLevel) bool {
	return IsAttendanceStatus(fl.Field().String())
}

func feeStatusValidation(fl validator.FieldLevel) bool {
	return IsFeeStatus(fl.Field().String())
}

func pwdNoSpaceValidation(fl validator.FieldLevel) bool {
	return !strings.ContainsFunc(fl.Field().String(), unicode.IsSpace)
}

// passwordStructValidation applies the admin password policy to Registration and AdminPassword.
func passwordStructValidation(sl validator.StructLevel) {
	switch v := sl.Current().Interface().(type) {
	case Registration:
		if v.Password != "" {
			validatePassword(v.Password, sl, v.Username, v.Name)
		}
	case AdminPassword:
		if v.Password != "" {
			validatePassword(v.Password, sl, v.Username, v.SchoolName)
		}
	}
}

// validatePassword applies the password policy to provided password:
// - minLen: 6
// - no whitespace
// - not all numeric
// - no similarity with the username or the school name
func validatePassword(pwd string, sl validator.StructLevel, attrs ...string) {
	if tag := PasswordPolicy(pwd, attrs...); tag != "" {
		sl.ReportError(pwd, "password", "Password", tag, "")
	}
}

// PasswordPolicy returns the tag of the first rule pwd breaks, or "".
func PasswordPolicy(pwd string, attrs ...string) string {
	if len([]rune(pwd)) < pwdMinLen {
		return pwdMinLenTag
	}
	var digits int
	for _, char := range pwd {
		if unicode.IsSpace(char) {
			return pwdNoSpaceTag
		}
		if unicode.IsDigit(char) {
			digits++
		}
	}
	if digits == len([]rune(pwd)) {
		return pwdNotAllNumTag
	}

	lpwd := strings.ToLower(pwd)
	for _, attr := range attrs {
		attr = strings.ToLower(strings.TrimSpace(attr))
		if attr == "" {
			continue
		}
		ratio := difflib.NewMatcher(strings.Split(lpwd, ""), strings.Split(attr, "")).QuickRatio()
		if ratio >= pwdMaxSim {
			return pwdAttrSimTag
		}
	}
	return ""
}
