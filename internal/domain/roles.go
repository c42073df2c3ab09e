package domain

import (
	"strings"
	"time"
)

// Tier описывает уровень доступа пользователя.
type Tier string

const (
	TierFree Tier = "free"
	TierVIP  Tier = "vip"
)

// TierPlan описывает ограничения уровня доступа.
type TierPlan struct {
	Tier         Tier
	Name         string
	ChannelLimit int
}

// TierLimits задаёт лимиты каналов для уровней.
type TierLimits struct {
	Free int
	VIP  int
}

// DefaultTierLimits возвращает лимиты по умолчанию.
func DefaultTierLimits() TierLimits {
	return TierLimits{Free: 5, VIP: 50}
}

// Plan возвращает тариф для уровня.
func (l TierLimits) Plan(tier Tier) TierPlan {
	if tier == TierVIP {
		return TierPlan{Tier: TierVIP, Name: "VIP", ChannelLimit: l.VIP}
	}
	return TierPlan{Tier: TierFree, Name: "Free", ChannelLimit: l.Free}
}

// VIPForever отмечает бессрочный VIP.
var VIPForever = time.Date(2099, time.December, 31, 23, 59, 59, 0, time.UTC)

// IsVIP сообщает, активен ли VIP на момент now.
func (u User) IsVIP(now time.Time) bool {
	return u.VIPUntil != nil && u.VIPUntil.After(now)
}

// Tier возвращает текущий уровень пользователя.
func (u User) Tier(now time.Time) Tier {
	if u.IsVIP(now) {
		return TierVIP
	}
	return TierFree
}

// ExtendVIP вычисляет новую дату окончания VIP: max(current, now) + days.
func ExtendVIP(current *time.Time, now time.Time, days int) (time.Time, error) {
	if days <= 0 {
		return time.Time{}, ErrInvalidDays
	}
	base := now
	if current != nil && current.After(now) {
		base = *current
	}
	next := base.AddDate(0, 0, days)
	if next.After(VIPForever) {
		next = VIPForever
	}
	return next, nil
}

// BroadcastGroup задаёт именованную группу получателей рассылки.
type BroadcastGroup string

const (
	GroupAll    BroadcastGroup = "all"
	GroupVIP    BroadcastGroup = "vip"
	GroupFree   BroadcastGroup = "free"
	GroupActive BroadcastGroup = "active"
)

// ActiveWindow задаёт окно активности для группы active.
const ActiveWindow = 7 * 24 * time.Hour

// ParseBroadcastGroup разбирает название группы. Пустая строка означает all.
func ParseBroadcastGroup(raw string) (BroadcastGroup, bool) {
	switch g := BroadcastGroup(strings.ToLower(strings.TrimSpace(raw))); g {
	case "":
		return GroupAll, true
	case GroupAll, GroupVIP, GroupFree, GroupActive:
		return g, true
	}
	return "", false
}

// Toggle описывает переключаемую пользователем функцию.
type Toggle string

const (
	ToggleForwarding Toggle = "forwarding"
	ToggleSpamFilter Toggle = "spam_filter"
	ToggleShortFeed  Toggle = "short_feed"
)

// RequiresVIP сообщает, доступна ли функция только VIP-пользователям.
func (t Toggle) RequiresVIP() bool {
	return t == ToggleSpamFilter || t == ToggleShortFeed
}

// Valid сообщает, известен ли переключатель.
func (t Toggle) Valid() bool {
	switch t {
	case ToggleForwarding, ToggleSpamFilter, ToggleShortFeed:
		return true
	}
	return false
}
