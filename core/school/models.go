package school

import (
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/edusmart/core"
)

// Attendance statuses
const (
	StatusPresent   = "present"
	StatusAbsent    = "absent"
	StatusNotMarked = "not-marked"
)

// Fee statuses
const (
	FeePaid    = "paid"
	FeePending = "pending"
)

const (
	RoleAdmin = "admin"

	PlanBasic = "basic"

	NotificationAlert = "alert"
	NotificationInfo  = "info"

	NoticeGeneral = "general"
	NoticeUrgent  = "urgent"
)

// MonthKeys are the keys of a fee year, in calendar order.
var MonthKeys = []string{"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"}

type (
	Info struct {
		Name      string `json:"name"`
		Owner     string `json:"owner"`
		Phone     string `json:"phone"`
		Email     string `json:"email,omitempty"`
		Plan      string `json:"plan"`
		CreatedAt int64  `json:"createdAt"` // unix ms
	}

	Timing struct {
		Start string `json:"start"` // HH:MM
		End   string `json:"end"`
	}

	Batch struct {
		ID        string             `json:"id"`
		Name      string             `json:"name"`
		Timing    *Timing            `json:"timing,omitempty"`
		CreatedAt int64              `json:"createdAt"`
		Students  map[string]Student `json:"students,omitempty"` // {studentID: Student}
	}

	Student struct {
		ID            string                       `json:"id"`
		Name          string                       `json:"name"`
		Phone         string                       `json:"phone"`
		Performance   int                          `json:"performance"`
		Attendance    map[string]string            `json:"attendance,omitempty"`    // {YYYY-MM-DD: status}
		Fees          map[string]map[string]string `json:"fees,omitempty"`          // {year: {month: status}}
		Notifications map[string]Notification      `json:"notifications,omitempty"` // {pushID: Notification}
		PasswordHash  string                       `json:"password,omitempty"`
		JoinedAt      int64                        `json:"joinedAt"`
	}

	Notification struct {
		ID   string `json:"-"`
		Text string `json:"text"`
		Date string `json:"date"` // RFC3339
		Type string `json:"type"`
		Read bool   `json:"read"`
	}

	Notice struct {
		ID        string `json:"-"`
		Text      string `json:"text"`
		Sender    string `json:"sender"`
		Date      string `json:"date"` // RFC3339
		CreatedAt int64  `json:"createdAt"`
		Type      string `json:"type,omitempty"`
	}

	// Admin is the credential stored at admins/{username}.
	Admin struct {
		Username     string `json:"-"`
		PasswordHash string `json:"password"`
		SchoolID     string `json:"schoolId"`
		Role         string `json:"role"`
	}

	// StudentRef addresses one student of a tenant.
	StudentRef struct {
		SchoolID  string
		BatchID   string
		StudentID string
	}

	Tenant struct {
		ID       string `json:"id"`
		Info     Info   `json:"info"`
		Username string `json:"username"`
	}
)

// SortedStudents returns the batch students ordered by join time, then id.
func (b Batch) SortedStudents() []Student {
	students := make([]Student, 0, len(b.Students))
	for _, s := range b.Students {
		students = append(students, s)
	}
	sort.Slice(students, func(i, j int) bool {
		if students[i].JoinedAt != students[j].JoinedAt {
			return students[i].JoinedAt < students[j].JoinedAt
		}
		return students[i].ID < students[j].ID
	})
	return students
}

func (b Batch) Student(id string) (Student, bool) {
	s, ok := b.Students[id]
	return s, ok
}

// Status returns the attendance status of a date, not-marked by default.
func (s Student) Status(date string) string {
	if st, ok := s.Attendance[date]; ok && st != "" {
		return st
	}
	return StatusNotMarked
}

// FeeStatus returns the fee status of a month, pending by default.
func (s Student) FeeStatus(year, month string) string {
	if st, ok := s.Fees[year][month]; ok && st != "" {
		return st
	}
	return FeePending
}

// SortedNotifications returns the notifications, newest first.
func (s Student) SortedNotifications() []Notification {
	ns := make([]Notification, 0, len(s.Notifications))
	for id, n := range s.Notifications {
		n.ID = id
		ns = append(ns, n)
	}
	sort.Slice(ns, func(i, j int) bool { return ns[i].ID > ns[j].ID })
	return ns
}

func (s Student) UnreadNotifications() int {
	var n int
	for _, notif := range s.Notifications {
		if !notif.Read {
			n++
		}
	}
	return n
}

func (s Student) HasPassword() bool {
	return s.PasswordHash != ""
}

func (s Student) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword([]byte(s.PasswordHash), []byte(pwd))
}

// Public returns a copy of s safe to hand out (no password hash).
func (s Student) Public() Student {
	s.PasswordHash = ""
	return s
}

// Matches reports whether s is identified by (name, phone): case-insensitive trimmed name, exact trimmed phone.
func (s Student) Matches(name, phone string) bool {
	return core.SameName(s.Name, name) && core.SamePhone(s.Phone, phone)
}

func (a *Admin) SetPassword(pwd string) error {
	hash, err := hashPassword(pwd)
	if err != nil {
		return err
	}
	a.PasswordHash = hash
	return nil
}

func (a Admin) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(pwd))
}

func hashPassword(pwd string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Registration contains what is needed to create a tenant and its admin.
type Registration struct {
	Name            string `json:"name" validate:"required,notblank"`
	Owner           string `json:"owner" validate:"required,notblank"`
	Phone           string `json:"phone" validate:"required,notblank"`
	Email           string `json:"email" validate:"omitempty,email"`
	Plan            string `json:"plan"`
	Username        string `json:"username" validate:"required,min=3,alphanum_"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"passwordConfirm" validate:"omitempty,eqfield=Password"`
}

func (r *Registration) Validate(validate *validator.Validate) error {
	r.Name = core.CleanString(r.Name)
	r.Owner = core.CleanString(r.Owner)
	r.Phone = core.CleanString(r.Phone)
	r.Email = core.CleanString(r.Email, true /* lower */)
	r.Username = core.CleanString(r.Username, true /* lower */)
	if r.Plan = core.CleanString(r.Plan, true /* lower */); r.Plan == "" {
		r.Plan = PlanBasic
	}
	return validate.Struct(r)
}

// InfoUpdate changes the non empty fields of a tenant's Info.
type InfoUpdate struct {
	Name  string `json:"name"`
	Owner string `json:"owner"`
	Phone string `json:"phone"`
	Email string `json:"email" validate:"omitempty,email"`
}

func (u *InfoUpdate) Validate(validate *validator.Validate) error {
	u.Name = core.CleanString(u.Name)
	u.Owner = core.CleanString(u.Owner)
	u.Phone = core.CleanString(u.Phone)
	u.Email = core.CleanString(u.Email, true /* lower */)
	if u.Name == "" && u.Owner == "" && u.Phone == "" && u.Email == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "name", Error: "nothing to update"})
	}
	return validate.Struct(u)
}

type NewBatch struct {
	Name   string  `json:"name" validate:"required,notblank"`
	Timing *Timing `json:"timing" validate:"omitempty"`
}

func (nb *NewBatch) Validate(validate *validator.Validate) error {
	nb.Name = core.CleanString(nb.Name)
	return validate.Struct(nb)
}

type TimingUpdate struct {
	Start string `json:"start" validate:"required,clock"`
	End   string `json:"end" validate:"required,clock"`
}

func (tu *TimingUpdate) Validate(validate *validator.Validate) error {
	tu.Start = strings.TrimSpace(tu.Start)
	tu.End = strings.TrimSpace(tu.End)
	return validate.Struct(tu)
}

type NewStudent struct {
	Name  string `json:"name" validate:"required,notblank"`
	Phone string `json:"phone" validate:"required,notblank"`
}

func (ns *NewStudent) Validate(validate *validator.Validate) error {
	ns.Name = core.CleanString(ns.Name)
	ns.Phone = core.CleanString(ns.Phone)
	return validate.Struct(ns)
}

type NewNotice struct {
	Text   string `json:"text" validate:"required,notblank"`
	Type   string `json:"type" validate:"omitempty,oneof=general urgent"`
	Sender string `json:"-"`
}

func (nn *NewNotice) Validate(validate *validator.Validate) error {
	nn.Text = strings.TrimSpace(nn.Text)
	if nn.Type == "" {
		nn.Type = NoticeGeneral
	}
	return validate.Struct(nn)
}

type StudentPassword struct {
	Password        string `json:"password" validate:"required,min=4,pwdnospace"`
	PasswordConfirm string `json:"passwordConfirm" validate:"omitempty,eqfield=Password"`
}

func (sp StudentPassword) Validate(validate *validator.Validate) error { return validate.Struct(sp) }

type AdminPassword struct {
	Username        string `json:"-"`
	SchoolName      string `json:"-"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"passwordConfirm" validate:"omitempty,eqfield=Password"`
}

func (ap AdminPassword) Validate(validate *validator.Validate) error { return validate.Struct(ap) }
