// Package user содержит доменную модель записи лидерборда StudyTime.
// Это ядро бизнес-логики - здесь нет внешних зависимостей.
package user

import (
	"fmt"
	"sort"
	"time"

	"github.com/studytime-hub/leaderboard-worker/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Category определяет, кто управляет записью лидерборда.
type Category string

const (
	// CategoryReal - реальный пользователь мобильного приложения.
	// Его накопительные поля пишет только само приложение.
	CategoryReal Category = "real"
	// CategoryFakeInactive - синтетическая запись, замороженная для витрины.
	// Никогда не обновляется вне недельного сброса.
	CategoryFakeInactive Category = "fake_inactive"
	// CategoryFakeActive - синтетическая запись, которую ведёт этот воркер.
	CategoryFakeActive Category = "fake_active"
)

// UserTypeReal - значение поля userType, которым приложение помечает
// аутентифицированных пользователей.
const UserTypeReal = "real"

// Status определяет отображаемый статус присутствия.
type Status string

const (
	// StatusOnline - пользователь сейчас занимается.
	StatusOnline Status = "Online"
	// StatusOffline - пользователь не в сети.
	StatusOffline Status = "Offline"
)

// StatusFor возвращает статус, соответствующий флагу online.
func StatusFor(online bool) Status {
	if online {
		return StatusOnline
	}
	return StatusOffline
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: RECORD
// ══════════════════════════════════════════════════════════════════════════════

// Record - запись лидерборда, как она хранится в дереве под leaderboard/<uid>.
// Временные метки хранятся строками RFC 3339 (формат мобильного приложения);
// парсинг выполняется лениво, чтобы одна битая метка не ломала всю запись.
type Record struct {
	// Name - отображаемое имя.
	Name string `json:"name,omitempty"`

	// AvatarID - идентификатор аватара в приложении.
	AvatarID string `json:"avatarId,omitempty"`

	// UserType - "real" для пользователей приложения; отсутствие или любое
	// другое значение означает синтетическую запись.
	UserType string `json:"userType,omitempty"`

	// IsFakeInactive - синтетическая запись, замороженная для витрины.
	IsFakeInactive bool `json:"isFakeInactive,omitempty"`

	// Online - текущий флаг присутствия.
	Online bool `json:"online,omitempty"`

	// Status - производный от Online отображаемый статус.
	Status Status `json:"status,omitempty"`

	// LastOnlineTime - момент последнего перехода в онлайн.
	LastOnlineTime string `json:"lastOnlineTime,omitempty"`

	// LastUpdate - момент последней записи в эту запись.
	LastUpdate string `json:"lastUpdate,omitempty"`

	// History - ключ календарного дня -> целые секунды занятий за день.
	History map[string]int64 `json:"history,omitempty"`

	// TodayHours - часы за сегодня (2 знака после запятой).
	TodayHours float64 `json:"todayHours,omitempty"`

	// WeekHours - часы за последние 7 дней истории (2 знака).
	WeekHours float64 `json:"weekHours,omitempty"`

	// Score - floor(WeekHours * 100).
	Score int64 `json:"score,omitempty"`

	// Профиль производительности (только для синтетических записей).
	PerfType         PerfType `json:"perfType,omitempty"`
	DailyTarget      float64  `json:"dailyTarget,omitempty"`
	StudyPace        float64  `json:"studyPace,omitempty"`
	OnlinePreference float64  `json:"onlinePreference,omitempty"`

	// WeeklyResetAt - маркер границы недельного цикла для приложения.
	WeeklyResetAt string `json:"weeklyResetAt,omitempty"`
}

// Classify возвращает категорию записи. Чистая функция только от userType и
// isFakeInactive, со строгим приоритетом: real > fake_inactive > fake_active.
// Реальный пользователь побеждает при любых остальных флагах - ошибочная
// классификация грозит перезаписью авторитетных данных приложения.
func Classify(r *Record) Category {
	if r.UserType == UserTypeReal {
		return CategoryReal
	}
	if r.IsFakeInactive {
		return CategoryFakeInactive
	}
	return CategoryFakeActive
}

// Category - удобный метод поверх Classify.
func (r *Record) Category() Category {
	return Classify(r)
}

// LastUpdateAt возвращает распарсенный LastUpdate (нулевое время при
// отсутствии или ошибке).
func (r *Record) LastUpdateAt() time.Time {
	return timeutil.ParseTimestamp(r.LastUpdate)
}

// LastOnlineAt возвращает распарсенный LastOnlineTime.
func (r *Record) LastOnlineAt() time.Time {
	return timeutil.ParseTimestamp(r.LastOnlineTime)
}

// TodaySeconds возвращает накопленные секунды за день dayKey.
func (r *Record) TodaySeconds(dayKey string) int64 {
	if r.History == nil {
		return 0
	}
	return r.History[dayKey]
}

// WeekSeconds суммирует последние 7 записей истории по сортировке ключей дат.
// Более старые записи игнорируются, даже если физически ещё не удалены.
func (r *Record) WeekSeconds() int64 {
	if len(r.History) == 0 {
		return 0
	}

	keys := make([]string, 0, len(r.History))
	for k := range r.History {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if len(keys) > 7 {
		keys = keys[len(keys)-7:]
	}

	var sum int64
	for _, k := range keys {
		sum += r.History[k]
	}
	return sum
}

// String возвращает строковое представление для логирования.
func (r *Record) String() string {
	return fmt.Sprintf("Record{Name: %s, Category: %s, Week: %.2fh, Score: %d}",
		r.Name, r.Category(), r.WeekHours, r.Score)
}
