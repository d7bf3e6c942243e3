package model

import "time"

// UncategorizedLabel はカテゴリ未設定の知識ポイントを集計する際のラベル。
const UncategorizedLabel = "未分类"

// ProgressRecord はユーザーごとの知識ポイント完了状態を表す。
type ProgressRecord struct {
	ID               int64
	UserID           int64
	KnowledgePointID int64
	IsCompleted      bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CompletedPoint は完了済み知識ポイントと完了日時を表す。
type CompletedPoint struct {
	KnowledgePointID int64
	Title            string
	Group            KnowledgeGroup
	Category         string
	CompletedAt      time.Time
}

// PointSummary は進捗集計に使用する知識ポイントの要約。
type PointSummary struct {
	ID       int64
	Group    KnowledgeGroup
	Category string
}

// StatCell は完了数と総数、完了率（%）の組を表す。
type StatCell struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Percent   int `json:"percent"`
}

// RecentPoint は最近完了した知識ポイントを表す。
type RecentPoint struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	CompletedAt time.Time `json:"completedAt"`
}

// ProgressStats はユーザーの学習進捗統計を表す。
type ProgressStats struct {
	Groups         map[string]map[string]StatCell `json:"groups"`
	Categories     map[string]StatCell            `json:"categories"`
	TotalKPs       int                            `json:"totalKPs"`
	TotalCompleted int                            `json:"totalCompleted"`
	OverallPercent int                            `json:"overallPercent"`
	RecentKPs      []RecentPoint                  `json:"recentKPs"`
	IsParent       bool                           `json:"isParent,omitempty"`
}
