package model

import "time"

// DefaultScheduleColor はカレンダー表示色が未指定の場合に使う色。
const DefaultScheduleColor = "#3B82F6"

// Schedule はコンテストや授業の予定を表す。
type Schedule struct {
	ID          int64
	Title       string
	Description string
	StartTime   time.Time
	EndTime     time.Time
	Location    string
	Link        string
	Color       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ScheduleUpdate は予定の部分更新内容を表す。
type ScheduleUpdate struct {
	Title       *string
	Description *string
	StartTime   *time.Time
	EndTime     *time.Time
	Location    *string
	Link        *string
	Color       *string
}
