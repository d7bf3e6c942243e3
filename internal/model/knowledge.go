package model

import "time"

// KnowledgeGroup は知識ポイントの所属グループを表す。
type KnowledgeGroup string

const (
	// KnowledgeGroupPrimary は入門組。
	KnowledgeGroupPrimary KnowledgeGroup = "入门组"
	// KnowledgeGroupAdvanced は提高組。
	KnowledgeGroupAdvanced KnowledgeGroup = "提高组"
)

// Valid は定義済みのグループかどうかを返す。
func (g KnowledgeGroup) Valid() bool {
	return g == KnowledgeGroupPrimary || g == KnowledgeGroupAdvanced
}

// KnowledgePoint は学習単位となる知識ポイントを表す。
type KnowledgePoint struct {
	ID        int64
	Title     string
	Group     KnowledgeGroup
	Category  string
	ContentMD string
	Problems  []Problem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// KnowledgePointUpdate は知識ポイントの部分更新内容を表す。
type KnowledgePointUpdate struct {
	Title     *string
	Group     *KnowledgeGroup
	Category  *string
	ContentMD *string
}

// Problem は知識ポイントに紐づく問題を表す。
type Problem struct {
	ID               int64
	KnowledgePointID int64
	Title            string
	ContentMD        string
	TemplateCpp      string
	VideoURL         string
	VideoUpdatedAt   *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ProblemUpdate は問題の部分更新内容を表す。
type ProblemUpdate struct {
	Title       *string
	ContentMD   *string
	TemplateCpp *string
	VideoURL    *string
}
