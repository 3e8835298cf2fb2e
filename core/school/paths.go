package school

import "github.com/trezcool/edusmart/core"

// Tree layout:
//
//	schools/{schoolID}/info
//	schools/{schoolID}/batches/{batchID}/students/{studentID}/attendance/{YYYY-MM-DD}
//	schools/{schoolID}/batches/{batchID}/students/{studentID}/fees/{year}/{month}
//	schools/{schoolID}/batches/{batchID}/students/{studentID}/notifications/{pushID}
//	schools/{schoolID}/notices/{pushID}
//	admins/{username}
const (
	SchoolsPath = "schools"
	AdminsPath  = "admins"
)

func SchoolPath(schoolID string) string {
	return core.JoinPath(SchoolsPath, schoolID)
}

func InfoPath(schoolID string) string {
	return core.JoinPath(SchoolPath(schoolID), "info")
}

func BatchesPath(schoolID string) string {
	return core.JoinPath(SchoolPath(schoolID), "batches")
}

func BatchPath(schoolID, batchID string) string {
	return core.JoinPath(BatchesPath(schoolID), batchID)
}

// batchIDPath holds a value for as long as the batch exists.
func batchIDPath(schoolID, batchID string) string {
	return core.JoinPath(BatchPath(schoolID, batchID), "id")
}

func TimingPath(schoolID, batchID string) string {
	return core.JoinPath(BatchPath(schoolID, batchID), "timing")
}

func StudentsPath(schoolID, batchID string) string {
	return core.JoinPath(BatchPath(schoolID, batchID), "students")
}

func NoticesPath(schoolID string) string {
	return core.JoinPath(SchoolPath(schoolID), "notices")
}

func NoticePath(schoolID, noticeID string) string {
	return core.JoinPath(NoticesPath(schoolID), noticeID)
}

func AdminPath(username string) string {
	return core.JoinPath(AdminsPath, username)
}

func (r StudentRef) Path() string {
	return core.JoinPath(StudentsPath(r.SchoolID, r.BatchID), r.StudentID)
}

func (r StudentRef) AttendancePath(date string) string {
	return core.JoinPath(r.Path(), "attendance", date)
}

func (r StudentRef) FeePath(year, month string) string {
	return core.JoinPath(r.Path(), "fees", year, month)
}

func (r StudentRef) PerformancePath() string {
	return core.JoinPath(r.Path(), "performance")
}

func (r StudentRef) NotificationsPath() string {
	return core.JoinPath(r.Path(), "notifications")
}

func (r StudentRef) PasswordPath() string {
	return core.JoinPath(r.Path(), "password")
}

// guards are the paths that must still exist when something is written below the student.
func (r StudentRef) guards() []string {
	return []string{batchIDPath(r.SchoolID, r.BatchID), core.JoinPath(r.Path(), "id")}
}

// validate checks that every part of r can be used as a path segment.
func (r StudentRef) validate() error {
	for _, s := range []string{r.SchoolID, r.BatchID, r.StudentID} {
		if err := core.PathSegment(s); err != nil {
			return err
		}
	}
	return nil
}
