package echoapi

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/core/livesync"
	"github.com/trezcool/edusmart/core/school"
	"github.com/trezcool/edusmart/core/session"
)

type (
	AdminLoginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
		SchoolID string `json:"schoolId"` // magic link tenant, if any
	}

	StudentLoginRequest struct {
		SchoolID string `json:"schoolId"`
		Name     string `json:"name" validate:"required,notblank"`
		Phone    string `json:"phone" validate:"required,notblank"`
		Password string `json:"password"`
	}

	SuperLoginRequest struct {
		Key string `json:"key" validate:"required"`
	}

	LoginResponse struct {
		Token   string          `json:"token"`
		Session session.Session `json:"session"`
	}

	RegisterResponse struct {
		Tenant school.Tenant `json:"school"`
		Link   string        `json:"link"`
	}

	ThemeRequest struct {
		Theme string `json:"theme" validate:"required,oneof=light dark"`
	}

	AttendanceRequest struct {
		Date string `json:"date" validate:"required,isodate"`
	}

	AttendanceResponse struct {
		Status string `json:"status"`
	}

	FeeRequest struct {
		Year  int    `json:"year" validate:"required,min=2000,max=2100"`
		Month string `json:"month" validate:"required,monthkey"`
	}

	FeeResponse struct {
		Status string `json:"status"`
	}

	PerformanceRequest struct {
		Score *int `json:"score" validate:"required,min=0,max=100"`
	}

	NotificationRequest struct {
		Text string `json:"text" validate:"required,notblank"`
	}

	RewriteRequest struct {
		Prompt string `json:"prompt" validate:"required,notblank"`
	}

	RewriteResponse struct {
		Content string `json:"content"`
	}

	ProfileRequest struct {
		Name     string `json:"name" validate:"required,notblank"`
		Phone    string `json:"phone" validate:"required,notblank"`
		Password string `json:"password"`
	}

	SwitchRequest struct {
		Index *int `json:"index" validate:"required,min=0"`
	}

	MarkAllResponse struct {
		Marked int `json:"marked"`
	}

	ReadResponse struct {
		Read int `json:"read"`
	}

	IDResponse struct {
		ID string `json:"id"`
	}

	BatchStats struct {
		school.Batch
		Stats school.DayStats `json:"stats"`
	}

	// NoticeItem exposes the notice id, which is the store key.
	NoticeItem struct {
		ID string `json:"id"`
		school.Notice
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}

	// ConsoleCommand is what the admin websocket accepts.
	ConsoleCommand struct {
		Op        string `json:"op"`
		BatchID   string `json:"batchId"`
		StudentID string `json:"studentId"`
		Date      string `json:"date"`
		Year      int    `json:"year"`
		Month     string `json:"month"`
		Score     int    `json:"score"`
		Name      string `json:"name"`
		Phone     string `json:"phone"`
		Text      string `json:"text"`
		Start     string `json:"start"`
		End       string `json:"end"`
	}

	// ConsoleView is a livesync.View as sent to the admin websocket, without password hashes.
	ConsoleView struct {
		Version         uint64          `json:"version"`
		State           string          `json:"state"`
		SchoolID        string          `json:"schoolId"`
		Batches         []school.Batch  `json:"batches"`
		Selected        *school.Batch   `json:"selected,omitempty"`
		SelectedStudent *school.Student `json:"selectedStudent,omitempty"`
	}

	// ConsoleMessage is what the admin websocket sends.
	ConsoleMessage struct {
		Type   string       `json:"type"` // view | result | error
		View   *ConsoleView `json:"view,omitempty"`
		Op     string       `json:"op,omitempty"`
		Result interface{}  `json:"result,omitempty"`
		Error  string       `json:"error,omitempty"`
	}

	// FeedCommand is what the student websocket accepts.
	FeedCommand struct {
		Op       string `json:"op"` // switch | add | read
		Index    int    `json:"index"`
		Name     string `json:"name"`
		Phone    string `json:"phone"`
		Password string `json:"password"`
	}

	// FeedMessage is what the student websocket sends.
	FeedMessage struct {
		Type      string              `json:"type"` // dashboard | result | error
		Dashboard *livesync.Dashboard `json:"dashboard,omitempty"`
		Op        string              `json:"op,omitempty"`
		Result    interface{}         `json:"result,omitempty"`
		Error     string              `json:"error,omitempty"`
	}
)

func (lr *AdminLoginRequest) Validate(validate *validator.Validate) error {
	lr.Username = core.CleanString(lr.Username, true /* lower */)
	lr.SchoolID = core.CleanString(lr.SchoolID)
	return validate.Struct(lr)
}

func (lr *StudentLoginRequest) Validate(validate *validator.Validate) error {
	lr.SchoolID = core.CleanString(lr.SchoolID)
	lr.Name = core.CleanString(lr.Name)
	lr.Phone = core.CleanString(lr.Phone)
	return validate.Struct(lr)
}

func (lr *SuperLoginRequest) Validate(validate *validator.Validate) error {
	lr.Key = strings.TrimSpace(lr.Key)
	return validate.Struct(lr)
}

func (tr *ThemeRequest) Validate(validate *validator.Validate) error {
	tr.Theme = core.CleanString(tr.Theme, true /* lower */)
	return validate.Struct(tr)
}

func (ar *AttendanceRequest) Validate(validate *validator.Validate) error {
	ar.Date = strings.TrimSpace(ar.Date)
	return validate.Struct(ar)
}

func (fr *FeeRequest) Validate(validate *validator.Validate) error {
	fr.Month = core.CleanString(fr.Month, true /* lower */)
	return validate.Struct(fr)
}

func (pr *PerformanceRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(pr)
}

func (nr *NotificationRequest) Validate(validate *validator.Validate) error {
	nr.Text = strings.TrimSpace(nr.Text)
	return validate.Struct(nr)
}

func (rr *RewriteRequest) Validate(validate *validator.Validate) error {
	rr.Prompt = strings.TrimSpace(rr.Prompt)
	return validate.Struct(rr)
}

func (pr *ProfileRequest) Validate(validate *validator.Validate) error {
	pr.Name = core.CleanString(pr.Name)
	pr.Phone = core.CleanString(pr.Phone)
	return validate.Struct(pr)
}

func (sr *SwitchRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(sr)
}
