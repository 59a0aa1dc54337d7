package model

import (
	"gorm.io/gorm"
)

// Pipeline is the catalog entry; its definitions live in PipelineVersion rows.
type Pipeline struct {
	gorm.Model
	Name          string `gorm:"type:varchar(255);not null;uniqueIndex"`
	Description   string `gorm:"type:text"`
	LatestVersion int    `gorm:"not null;default:1"`
}

// PipelineVersion stores one revision of the raw YAML definition.
type PipelineVersion struct {
	gorm.Model
	PipelineID uint   `gorm:"not null;uniqueIndex:idx_pipeline_version"`
	Version    int    `gorm:"not null;uniqueIndex:idx_pipeline_version"`
	Config     string `gorm:"type:text;not null"`
}
