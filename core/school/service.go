package school

import (
	"bytes"
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/edusmart/core"
)

var (
	// errors
	ErrTenantNotFound  = errors.New("school not found")
	ErrBatchNotFound   = errors.New("batch not found")
	ErrStudentNotFound = errors.New("student not found")
	ErrAdminNotFound   = errors.New("admin not found")
	ErrNoticeNotFound  = errors.New("notice not found")
	ErrUsernameExists  = errors.New("a school admin with this username already exists")
	ErrInvalidDate     = errors.New("date must be formatted as YYYY-MM-DD")
	ErrInvalidStatus   = errors.New("invalid status")
	ErrInvalidMonth    = errors.New("invalid month")
	ErrInvalidScore    = errors.New("performance must be between 0 and 100")
)

// IsNotFound reports whether err (or its cause) is one of the not found errors.
func IsNotFound(err error) bool {
	switch errors.Cause(err) {
	case ErrTenantNotFound, ErrBatchNotFound, ErrStudentNotFound, ErrAdminNotFound, ErrNoticeNotFound:
		return true
	}
	return false
}

// Service reads and writes tenant data through a core.Store. Every mutation is a single store write.
type Service struct {
	store  core.Store
	conf   *core.Config
	mailer core.EmailService
	logger core.Logger
	now    func() time.Time
}

func NewService(store core.Store, conf *core.Config, mailer core.EmailService, logger core.Logger) *Service {
	return &Service{
		store:  store,
		conf:   conf,
		mailer: mailer,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock replaces the time source (tests).
func (svc *Service) SetClock(now func() time.Time) {
	svc.now = now
}

// Now returns the current time of the service clock.
func (svc *Service) Now() time.Time {
	return svc.now()
}

func (svc *Service) Store() core.Store {
	return svc.store
}

func (svc *Service) nowMillis() int64 {
	return svc.now().UnixMilli()
}

// writeStudent writes values below ref, only if the student and its batch still exist.
func (svc *Service) writeStudent(ctx context.Context, ref StudentRef, values map[string]interface{}) error {
	err := svc.store.UpdateIfExists(ctx, values, ref.guards()...)
	if errors.Is(err, core.ErrPrecondition) {
		return ErrStudentNotFound
	}
	return err
}

// writeBatch writes values below a batch, only if it still exists.
func (svc *Service) writeBatch(ctx context.Context, schoolID, batchID string, values map[string]interface{}) error {
	err := svc.store.UpdateIfExists(ctx, values, batchIDPath(schoolID, batchID))
	if errors.Is(err, core.ErrPrecondition) {
		return ErrBatchNotFound
	}
	return err
}

// writeTenant writes values below a tenant, only if its info still exists.
func (svc *Service) writeTenant(ctx context.Context, schoolID string, values map[string]interface{}) error {
	err := svc.store.UpdateIfExists(ctx, values, InfoPath(schoolID))
	if errors.Is(err, core.ErrPrecondition) {
		return ErrTenantNotFound
	}
	return err
}

func (svc *Service) exists(ctx context.Context, path string, notFound error) error {
	snap, err := svc.store.Get(ctx, path)
	if err != nil {
		return errors.Wrapf(err, "reading %q", path)
	}
	if !snap.Exists() {
		return notFound
	}
	return nil
}

func (svc *Service) requireTenant(ctx context.Context, schoolID string) error {
	if err := core.PathSegment(schoolID); err != nil {
		return ErrTenantNotFound
	}
	return svc.exists(ctx, InfoPath(schoolID), ErrTenantNotFound)
}

func (svc *Service) requireBatch(ctx context.Context, schoolID, batchID string) error {
	if core.PathSegment(schoolID) != nil || core.PathSegment(batchID) != nil {
		return ErrBatchNotFound
	}
	return svc.exists(ctx, core.JoinPath(BatchPath(schoolID, batchID), "id"), ErrBatchNotFound)
}

func (svc *Service) requireStudent(ctx context.Context, ref StudentRef) error {
	if ref.validate() != nil {
		return ErrStudentNotFound
	}
	return svc.exists(ctx, core.JoinPath(ref.Path(), "id"), ErrStudentNotFound)
}

// Tenants

// Register creates the tenant info and its admin credential in one update, then sends the welcome email.
func (svc *Service) Register(ctx context.Context, reg Registration) (Tenant, error) {
	if err := core.PathSegment(reg.Username); err != nil {
		return Tenant{}, core.NewFieldValidationError("username", "invalid username")
	}
	if _, err := svc.GetAdmin(ctx, reg.Username); err == nil {
		return Tenant{}, core.NewValidationError(ErrUsernameExists, core.FieldError{Field: "username", Error: ErrUsernameExists.Error()})
	} else if !errors.Is(err, ErrAdminNotFound) {
		return Tenant{}, err
	}

	tenant := Tenant{
		ID: core.NewID(),
		Info: Info{
			Name:      reg.Name,
			Owner:     reg.Owner,
			Phone:     reg.Phone,
			Email:     reg.Email,
			Plan:      reg.Plan,
			CreatedAt: svc.nowMillis(),
		},
		Username: reg.Username,
	}
	admin := Admin{SchoolID: tenant.ID, Role: RoleAdmin}
	if err := admin.SetPassword(reg.Password); err != nil {
		return Tenant{}, errors.Wrap(err, "hashing password")
	}

	err := svc.store.Update(ctx, map[string]interface{}{
		InfoPath(tenant.ID):     tenant.Info,
		AdminPath(reg.Username): admin,
	})
	if err != nil {
		return Tenant{}, errors.Wrap(err, "registering school")
	}
	svc.sendWelcome(tenant)
	return tenant, nil
}

func (svc *Service) sendWelcome(tenant Tenant) {
	if svc.mailer == nil || tenant.Info.Email == "" {
		return
	}
	link := svc.conf.MagicLink(tenant.ID)
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: tenant.Info.Owner, Address: tenant.Info.Email}},
		Subject:      "Welcome to " + svc.conf.AppName,
		TemplateName: "welcome",
		TemplateData: map[string]interface{}{
			"Owner":    tenant.Info.Owner,
			"School":   tenant.Info.Name,
			"Username": tenant.Username,
			"Link":     link,
		},
	}
	if png, err := core.LinkQRCode(link, core.QRSize); err == nil {
		_ = msg.Attach(bytes.NewReader(png), "magic-link.png", "image/png")
	} else {
		svc.logger.Warn("generating magic link QR code", err, &core.LogPerson{Username: tenant.Username, SchoolID: tenant.ID})
	}
	svc.mailer.SendMessages(msg)
}

func (svc *Service) GetInfo(ctx context.Context, schoolID string) (Info, error) {
	if err := core.PathSegment(schoolID); err != nil {
		return Info{}, ErrTenantNotFound
	}
	snap, err := svc.store.Get(ctx, InfoPath(schoolID))
	if err != nil {
		return Info{}, errors.Wrap(err, "reading school info")
	}
	if !snap.Exists() {
		return Info{}, ErrTenantNotFound
	}
	var info Info
	if err = snap.Decode(&info); err != nil {
		return Info{}, err
	}
	return info, nil
}

// UpdateInfo writes the non empty fields of upd.
func (svc *Service) UpdateInfo(ctx context.Context, schoolID string, upd InfoUpdate) (Info, error) {
	info, err := svc.GetInfo(ctx, schoolID)
	if err != nil {
		return Info{}, err
	}
	values := make(map[string]interface{}, 4)
	set := func(field, val string, dst *string) {
		if val != "" {
			values[core.JoinPath(InfoPath(schoolID), field)] = val
			*dst = val
		}
	}
	set("name", upd.Name, &info.Name)
	set("owner", upd.Owner, &info.Owner)
	set("phone", upd.Phone, &info.Phone)
	set("email", upd.Email, &info.Email)
	if err = svc.writeTenant(ctx, schoolID, values); err != nil {
		return Info{}, errors.Wrap(err, "updating school info")
	}
	return info, nil
}

// DeleteTenant removes the tenant tree and every admin credential bound to it, atomically.
func (svc *Service) DeleteTenant(ctx context.Context, schoolID string) error {
	if err := svc.requireTenant(ctx, schoolID); err != nil {
		return err
	}
	admins, err := svc.Admins(ctx)
	if err != nil {
		return err
	}
	values := map[string]interface{}{SchoolPath(schoolID): nil}
	for _, a := range admins {
		if a.SchoolID == schoolID {
			values[AdminPath(a.Username)] = nil
		}
	}
	return errors.Wrap(svc.store.Update(ctx, values), "deleting school")
}

// Admins

func (svc *Service) GetAdmin(ctx context.Context, username string) (Admin, error) {
	username = core.CleanString(username, true /* lower */)
	if err := core.PathSegment(username); err != nil {
		return Admin{}, ErrAdminNotFound
	}
	snap, err := svc.store.Get(ctx, AdminPath(username))
	if err != nil {
		return Admin{}, errors.Wrap(err, "reading admin")
	}
	if !snap.Exists() {
		return Admin{}, ErrAdminNotFound
	}
	var admin Admin
	if err = snap.Decode(&admin); err != nil {
		return Admin{}, err
	}
	admin.Username = username
	return admin, nil
}

// Admins returns every admin credential, ordered by username.
func (svc *Service) Admins(ctx context.Context) ([]Admin, error) {
	snap, err := svc.store.Get(ctx, AdminsPath)
	if err != nil {
		return nil, errors.Wrap(err, "reading admins")
	}
	return adminsFromSnapshot(snap)
}

func adminsFromSnapshot(snap core.Snapshot) ([]Admin, error) {
	var m map[string]Admin
	if err := snap.Decode(&m); err != nil {
		return nil, err
	}
	admins := make([]Admin, 0, len(m))
	for _, username := range snap.Keys() {
		a := m[username]
		a.Username = username
		admins = append(admins, a)
	}
	return admins, nil
}

// AddAdmin binds a new admin username to an existing tenant.
func (svc *Service) AddAdmin(ctx context.Context, schoolID, username, password string) (Admin, error) {
	if err := svc.requireTenant(ctx, schoolID); err != nil {
		return Admin{}, err
	}
	username = core.CleanString(username, true /* lower */)
	if err := core.PathSegment(username); err != nil {
		return Admin{}, core.NewFieldValidationError("username", "invalid username")
	}
	if _, err := svc.GetAdmin(ctx, username); err == nil {
		return Admin{}, core.NewValidationError(ErrUsernameExists, core.FieldError{Field: "username", Error: ErrUsernameExists.Error()})
	} else if !errors.Is(err, ErrAdminNotFound) {
		return Admin{}, err
	}
	admin := Admin{Username: username, SchoolID: schoolID, Role: RoleAdmin}
	if err := admin.SetPassword(password); err != nil {
		return Admin{}, errors.Wrap(err, "hashing password")
	}
	if err := svc.store.Set(ctx, AdminPath(username), admin); err != nil {
		return Admin{}, errors.Wrap(err, "saving admin")
	}
	return admin, nil
}

func (svc *Service) SetAdminPassword(ctx context.Context, username, password string) error {
	admin, err := svc.GetAdmin(ctx, username)
	if err != nil {
		return err
	}
	if err = admin.SetPassword(password); err != nil {
		return errors.Wrap(err, "hashing password")
	}
	path := core.JoinPath(AdminPath(admin.Username), "password")
	return errors.Wrap(svc.store.Set(ctx, path, admin.PasswordHash), "saving admin password")
}

// Batches

func (svc *Service) Batches(ctx context.Context, schoolID string) ([]Batch, error) {
	if err := core.PathSegment(schoolID); err != nil {
		return nil, ErrTenantNotFound
	}
	snap, err := svc.store.Get(ctx, BatchesPath(schoolID))
	if err != nil {
		return nil, errors.Wrap(err, "reading batches")
	}
	return BatchesFromSnapshot(snap)
}

func (svc *Service) GetBatch(ctx context.Context, schoolID, batchID string) (Batch, error) {
	if core.PathSegment(schoolID) != nil || core.PathSegment(batchID) != nil {
		return Batch{}, ErrBatchNotFound
	}
	snap, err := svc.store.Get(ctx, BatchPath(schoolID, batchID))
	if err != nil {
		return Batch{}, errors.Wrap(err, "reading batch")
	}
	b, ok, err := BatchFromSnapshot(snap, batchID)
	if err != nil {
		return Batch{}, err
	}
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	return b, nil
}

// NewBatchValue returns the batch CreateBatch would store, without storing it.
func (svc *Service) NewBatchValue(nb NewBatch) Batch {
	return Batch{
		ID:        core.NewID(),
		Name:      nb.Name,
		Timing:    nb.Timing,
		CreatedAt: svc.nowMillis(),
	}
}

func (svc *Service) CreateBatch(ctx context.Context, schoolID string, nb NewBatch) (Batch, error) {
	return svc.SaveBatch(ctx, schoolID, svc.NewBatchValue(nb))
}

// SaveBatch writes b as a whole under its id.
func (svc *Service) SaveBatch(ctx context.Context, schoolID string, b Batch) (Batch, error) {
	if err := svc.requireTenant(ctx, schoolID); err != nil {
		return Batch{}, err
	}
	if err := svc.writeTenant(ctx, schoolID, map[string]interface{}{BatchPath(schoolID, b.ID): b}); err != nil {
		return Batch{}, errors.Wrap(err, "saving batch")
	}
	return b, nil
}

func (svc *Service) DeleteBatch(ctx context.Context, schoolID, batchID string) error {
	if err := svc.requireBatch(ctx, schoolID, batchID); err != nil {
		return err
	}
	return errors.Wrap(svc.store.Remove(ctx, BatchPath(schoolID, batchID)), "deleting batch")
}

func (svc *Service) SetTiming(ctx context.Context, schoolID, batchID string, t Timing) error {
	if err := svc.requireBatch(ctx, schoolID, batchID); err != nil {
		return err
	}
	return errors.Wrap(svc.writeBatch(ctx, schoolID, batchID, map[string]interface{}{TimingPath(schoolID, batchID): t}), "saving timing")
}

// Students

// NewStudentValue returns the student AddStudent would store, without storing it.
func (svc *Service) NewStudentValue(ns NewStudent) Student {
	return Student{
		ID:          core.NewID(),
		Name:        ns.Name,
		Phone:       ns.Phone,
		Performance: 0,
		JoinedAt:    svc.nowMillis(),
	}
}

func (svc *Service) AddStudent(ctx context.Context, schoolID, batchID string, ns NewStudent) (Student, error) {
	return svc.SaveStudent(ctx, schoolID, batchID, svc.NewStudentValue(ns))
}

// SaveStudent writes s as a whole under its id.
func (svc *Service) SaveStudent(ctx context.Context, schoolID, batchID string, s Student) (Student, error) {
	if err := svc.requireBatch(ctx, schoolID, batchID); err != nil {
		return Student{}, err
	}
	ref := StudentRef{SchoolID: schoolID, BatchID: batchID, StudentID: s.ID}
	if err := svc.writeBatch(ctx, schoolID, batchID, map[string]interface{}{ref.Path(): s}); err != nil {
		return Student{}, errors.Wrap(err, "saving student")
	}
	return s, nil
}

func (svc *Service) GetStudent(ctx context.Context, ref StudentRef) (Student, error) {
	if ref.validate() != nil {
		return Student{}, ErrStudentNotFound
	}
	snap, err := svc.store.Get(ctx, ref.Path())
	if err != nil {
		return Student{}, errors.Wrap(err, "reading student")
	}
	if !snap.Exists() {
		return Student{}, ErrStudentNotFound
	}
	var s Student
	if err = snap.Decode(&s); err != nil {
		return Student{}, err
	}
	s.ID = ref.StudentID
	return s, nil
}

// RemoveStudent deletes students/{id}; the other students keep their keys.
func (svc *Service) RemoveStudent(ctx context.Context, ref StudentRef) error {
	if err := svc.requireStudent(ctx, ref); err != nil {
		return err
	}
	return errors.Wrap(svc.store.Remove(ctx, ref.Path()), "removing student")
}

// AbsenceNotification is the alert appended when a student is marked absent.
func AbsenceNotification(date string, at time.Time) Notification {
	return Notification{
		Text: "You were marked absent on " + date + ".",
		Date: at.UTC().Format(time.RFC3339),
		Type: NotificationAlert,
	}
}

// SetAttendance writes the status of date. When alert is set and status is absent, the absence
// notification is appended in the same update; its key is returned.
func (svc *Service) SetAttendance(ctx context.Context, ref StudentRef, date, status string, alert bool) (string, error) {
	if _, err := ParseDay(date); err != nil {
		return "", ErrInvalidDate
	}
	if !IsAttendanceStatus(status) {
		return "", ErrInvalidStatus
	}
	if err := svc.requireStudent(ctx, ref); err != nil {
		return "", err
	}
	values := map[string]interface{}{ref.AttendancePath(date): status}
	var notifID string
	if alert && status == StatusAbsent {
		notifID = core.NewID()
		values[core.JoinPath(ref.NotificationsPath(), notifID)] = AbsenceNotification(date, svc.now())
	}
	if err := svc.writeStudent(ctx, ref, values); err != nil {
		return "", errors.Wrap(err, "saving attendance")
	}
	return notifID, nil
}

// MarkAllPresent marks every student of the batch present on date in one update.
// It returns the number of students marked.
func (svc *Service) MarkAllPresent(ctx context.Context, schoolID, batchID, date string) (int, error) {
	if _, err := ParseDay(date); err != nil {
		return 0, ErrInvalidDate
	}
	b, err := svc.GetBatch(ctx, schoolID, batchID)
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(b.Students))
	for id := range b.Students {
		ids = append(ids, id)
	}
	return svc.MarkPresent(ctx, schoolID, batchID, date, ids)
}

const markPresentAttempts = 3

// MarkPresent marks the given students present on date in one update. Students no longer in the
// batch are skipped; it returns the number of students marked.
func (svc *Service) MarkPresent(ctx context.Context, schoolID, batchID, date string, studentIDs []string) (int, error) {
	if _, err := ParseDay(date); err != nil {
		return 0, ErrInvalidDate
	}
	for _, id := range studentIDs {
		ref := StudentRef{SchoolID: schoolID, BatchID: batchID, StudentID: id}
		if err := ref.validate(); err != nil {
			return 0, err
		}
	}

	var err error
	for attempt := 0; attempt < markPresentAttempts; attempt++ {
		var b Batch
		if b, err = svc.GetBatch(ctx, schoolID, batchID); err != nil {
			return 0, err
		}
		values := make(map[string]interface{}, len(studentIDs))
		required := []string{batchIDPath(schoolID, batchID)}
		for _, id := range studentIDs {
			if _, ok := b.Students[id]; !ok {
				continue
			}
			ref := StudentRef{SchoolID: schoolID, BatchID: batchID, StudentID: id}
			values[ref.AttendancePath(date)] = StatusPresent
			required = append(required, core.JoinPath(ref.Path(), "id"))
		}
		// a student removed between the read and the commit fails the guard: read again
		err = svc.store.UpdateIfExists(ctx, values, required...)
		if err == nil {
			return len(values), nil
		}
		if !errors.Is(err, core.ErrPrecondition) {
			return 0, errors.Wrap(err, "marking all present")
		}
	}
	return 0, errors.Wrap(err, "marking all present")
}

func (svc *Service) SetFee(ctx context.Context, ref StudentRef, year, month, status string) error {
	if _, err := time.Parse("2006", year); err != nil {
		return core.NewFieldValidationError("year", "year must be formatted as YYYY")
	}
	if !IsMonthKey(month) {
		return ErrInvalidMonth
	}
	if !IsFeeStatus(status) {
		return ErrInvalidStatus
	}
	if err := svc.requireStudent(ctx, ref); err != nil {
		return err
	}
	return errors.Wrap(svc.writeStudent(ctx, ref, map[string]interface{}{ref.FeePath(year, month): status}), "saving fee")
}

func (svc *Service) SetPerformance(ctx context.Context, ref StudentRef, score int) error {
	if score < 0 || score > 100 {
		return ErrInvalidScore
	}
	if err := svc.requireStudent(ctx, ref); err != nil {
		return err
	}
	return errors.Wrap(svc.writeStudent(ctx, ref, map[string]interface{}{ref.PerformancePath(): score}), "saving performance")
}

// AddNotification appends a notification to the student and returns its key.
func (svc *Service) AddNotification(ctx context.Context, ref StudentRef, text, typ string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", core.NewFieldValidationError("text", "this field cannot be blank")
	}
	if typ == "" {
		typ = NotificationInfo
	}
	if err := svc.requireStudent(ctx, ref); err != nil {
		return "", err
	}
	n := Notification{Text: text, Date: svc.now().UTC().Format(time.RFC3339), Type: typ}
	id := core.NewID()
	if err := svc.writeStudent(ctx, ref, map[string]interface{}{core.JoinPath(ref.NotificationsPath(), id): n}); err != nil {
		return "", errors.Wrap(err, "saving notification")
	}
	return id, nil
}

// MarkNotificationsRead flags every unread notification of the student as read.
func (svc *Service) MarkNotificationsRead(ctx context.Context, ref StudentRef) (int, error) {
	s, err := svc.GetStudent(ctx, ref)
	if err != nil {
		return 0, err
	}
	values := make(map[string]interface{})
	for id, n := range s.Notifications {
		if !n.Read {
			values[core.JoinPath(ref.NotificationsPath(), id, "read")] = true
		}
	}
	if err = svc.writeStudent(ctx, ref, values); err != nil {
		return 0, errors.Wrap(err, "marking notifications read")
	}
	return len(values), nil
}

func (svc *Service) SetStudentPassword(ctx context.Context, ref StudentRef, password string) error {
	if err := svc.requireStudent(ctx, ref); err != nil {
		return err
	}
	hash, err := hashPassword(password)
	if err != nil {
		return errors.Wrap(err, "hashing password")
	}
	return errors.Wrap(svc.writeStudent(ctx, ref, map[string]interface{}{ref.PasswordPath(): hash}), "saving student password")
}

// FindStudent looks (name, phone) up across every batch of the tenant.
func (svc *Service) FindStudent(ctx context.Context, schoolID, name, phone string) (Student, Batch, error) {
	batches, err := svc.Batches(ctx, schoolID)
	if err != nil {
		return Student{}, Batch{}, err
	}
	if s, b, ok := FindIn(batches, name, phone); ok {
		return s, b, nil
	}
	return Student{}, Batch{}, ErrStudentNotFound
}

// FindIn looks (name, phone) up in batches; students are scanned in presentation order.
func FindIn(batches []Batch, name, phone string) (Student, Batch, bool) {
	for _, b := range batches {
		for _, s := range b.SortedStudents() {
			if s.Matches(name, phone) {
				return s, b, true
			}
		}
	}
	return Student{}, Batch{}, false
}

// Notices

func (svc *Service) PostNotice(ctx context.Context, schoolID string, nn NewNotice) (Notice, error) {
	if err := svc.requireTenant(ctx, schoolID); err != nil {
		return Notice{}, err
	}
	now := svc.now()
	n := Notice{
		Text:      nn.Text,
		Sender:    nn.Sender,
		Date:      now.UTC().Format(time.RFC3339),
		CreatedAt: now.UnixMilli(),
		Type:      nn.Type,
	}
	id := core.NewID()
	if err := svc.writeTenant(ctx, schoolID, map[string]interface{}{NoticePath(schoolID, id): n}); err != nil {
		return Notice{}, errors.Wrap(err, "saving notice")
	}
	n.ID = id
	return n, nil
}

func (svc *Service) DeleteNotice(ctx context.Context, schoolID, noticeID string) error {
	if core.PathSegment(schoolID) != nil || core.PathSegment(noticeID) != nil {
		return ErrNoticeNotFound
	}
	if err := svc.exists(ctx, NoticePath(schoolID, noticeID), ErrNoticeNotFound); err != nil {
		return err
	}
	return errors.Wrap(svc.store.Remove(ctx, NoticePath(schoolID, noticeID)), "deleting notice")
}

// Notices returns the tenant notices, newest first.
func (svc *Service) Notices(ctx context.Context, schoolID string) ([]Notice, error) {
	if err := core.PathSegment(schoolID); err != nil {
		return nil, ErrTenantNotFound
	}
	snap, err := svc.store.Get(ctx, NoticesPath(schoolID))
	if err != nil {
		return nil, errors.Wrap(err, "reading notices")
	}
	return NoticesFromSnapshot(snap)
}
