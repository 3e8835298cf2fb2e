package school

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/edusmart/core"
)

// DefaultTrendMonths is the window of MonthlyTrend when none is given.
const DefaultTrendMonths = 6

// Day is a calendar date, free of any time zone.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDay parses a YYYY-MM-DD attendance key.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(core.DayLayout, s)
	if err != nil {
		return Day{}, errors.Wrapf(err, "parsing day %q", s)
	}
	y, m, d := t.Date()
	return Day{Year: y, Month: m, Day: d}, nil
}

// DayOf returns the calendar day of t in its own location.
func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	return Day{Year: y, Month: m, Day: d}
}

func (d Day) String() string {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Format(core.DayLayout)
}

func (d Day) ordinal() int {
	return d.Year*10000 + int(d.Month)*100 + d.Day
}

func (d Day) Before(other Day) bool {
	return d.ordinal() < other.ordinal()
}

type (
	MonthPercent struct {
		Label   string     `json:"label"` // short month name
		Year    int        `json:"year"`
		Month   time.Month `json:"month"`
		Percent int        `json:"percent"`
	}

	DayStats struct {
		Present int `json:"present"`
		Absent  int `json:"absent"`
		Total   int `json:"total"`
	}

	Summary struct {
		AttendancePercent int            `json:"attendancePercent"`
		MonthsPaid        int            `json:"monthsPaid"` // current year
		Streak            int            `json:"streak"`
		Trend             []MonthPercent `json:"trend"`
		Unread            int            `json:"unread"`
	}
)

func percent(present, valid int) int {
	if valid == 0 {
		return 0
	}
	return int(math.Round(100 * float64(present) / float64(valid)))
}

// AttendancePercent is round(100 * present / (present + absent)); other statuses are ignored.
func AttendancePercent(attendance map[string]string) int {
	var present, valid int
	for _, status := range attendance {
		switch status {
		case StatusPresent:
			present++
			valid++
		case StatusAbsent:
			valid++
		}
	}
	return percent(present, valid)
}

// MonthsPaid counts the months of year marked paid.
func MonthsPaid(fees map[string]map[string]string, year string) int {
	var n int
	for _, status := range fees[year] {
		if status == FeePaid {
			n++
		}
	}
	return n
}

type datedStatus struct {
	day    Day
	status string
}

// datedEntries returns the entries with a valid date, most recent first.
func datedEntries(attendance map[string]string) []datedStatus {
	entries := make([]datedStatus, 0, len(attendance))
	for date, status := range attendance {
		day, err := ParseDay(date)
		if err != nil {
			continue
		}
		entries = append(entries, datedStatus{day: day, status: status})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[j].day.Before(entries[i].day) })
	return entries
}

// CurrentStreak counts the most recent present days, stopping at the first absence.
// Dates with any other status are skipped.
func CurrentStreak(attendance map[string]string) int {
	var streak int
	for _, e := range datedEntries(attendance) {
		switch e.status {
		case StatusPresent:
			streak++
		case StatusAbsent:
			return streak
		}
	}
	return streak
}

// MonthlyTrend returns the attendance percent of each of the last monthsBack calendar months, the month
// of now included, oldest first.
func MonthlyTrend(attendance map[string]string, now time.Time, monthsBack int) []MonthPercent {
	if monthsBack <= 0 {
		monthsBack = DefaultTrendMonths
	}
	type counter struct{ present, valid int }
	counts := make(map[int]*counter, monthsBack)
	for date, status := range attendance {
		day, err := ParseDay(date)
		if err != nil {
			continue
		}
		key := day.Year*100 + int(day.Month)
		c, ok := counts[key]
		if !ok {
			c = &counter{}
			counts[key] = c
		}
		switch status {
		case StatusPresent:
			c.present++
			c.valid++
		case StatusAbsent:
			c.valid++
		}
	}

	year, month, _ := now.Date()
	trend := make([]MonthPercent, monthsBack)
	for i := monthsBack - 1; i >= 0; i-- {
		mp := MonthPercent{Year: year, Month: month, Label: month.String()[:3]}
		if c, ok := counts[year*100+int(month)]; ok {
			mp.Percent = percent(c.present, c.valid)
		}
		trend[i] = mp

		if month == time.January {
			year--
			month = time.December
		} else {
			month--
		}
	}
	return trend
}

// DayCounts counts the statuses of a date over students.
func DayCounts(students []Student, date string) DayStats {
	stats := DayStats{Total: len(students)}
	for _, s := range students {
		switch s.Attendance[date] {
		case StatusPresent:
			stats.Present++
		case StatusAbsent:
			stats.Absent++
		}
	}
	return stats
}

func BatchDayStats(b Batch, date string) DayStats {
	return DayCounts(b.SortedStudents(), date)
}

// StudentSummary bundles the dashboard figures of s as of now.
func StudentSummary(s Student, now time.Time) Summary {
	return Summary{
		AttendancePercent: AttendancePercent(s.Attendance),
		MonthsPaid:        MonthsPaid(s.Fees, strconv.Itoa(now.Year())),
		Streak:            CurrentStreak(s.Attendance),
		Trend:             MonthlyTrend(s.Attendance, now, DefaultTrendMonths),
		Unread:            s.UnreadNotifications(),
	}
}
