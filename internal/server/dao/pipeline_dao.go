package dao

import (
	"context"
	"errors"

	"github.com/Kshitijknk07/CicadaCI/internal/common"
	"github.com/Kshitijknk07/CicadaCI/internal/server/model"
	"gorm.io/gorm"
)

type PipelineDao interface {
	// create pipeline together with its first version
	Create(ctx context.Context, pipeline *model.Pipeline, pipelineVersion *model.PipelineVersion) error
	// append a new version and bump LatestVersion
	Update(ctx context.Context, name string, pipeline *model.Pipeline, pipelineVersion *model.PipelineVersion) error
	GetPipelineByName(ctx context.Context, name string) (*model.Pipeline, *model.PipelineVersion, error)
	GetAllPipelines(ctx context.Context) ([]*model.Pipeline, error)
	// latest version of every pipeline
	GetAllPipelineVersions(ctx context.Context) ([]*model.PipelineVersion, error)
	GetPipelineVersion(ctx context.Context, name string, version int) (*model.PipelineVersion, error)
}

type pipelineDAO struct {
}

func NewPipelineDao() PipelineDao {
	return &pipelineDAO{}
}

func (d *pipelineDAO) Create(ctx context.Context, pipeline *model.Pipeline, pipelineVersion *model.PipelineVersion) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Pipeline{}).Where("name = ?", pipeline.Name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return common.NewErrNo(common.PipelineExists)
		}

		pipeline.LatestVersion = 1
		if err := tx.Create(pipeline).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return common.NewErrNo(common.PipelineExists)
			}
			return err
		}

		pipelineVersion.PipelineID = pipeline.ID
		pipelineVersion.Version = pipeline.LatestVersion
		if err := tx.Create(pipelineVersion).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return common.NewErrNo(common.PipelineExists)
			}
			return err
		}
		return nil
	})
}

func (d *pipelineDAO) Update(ctx context.Context, name string, newPipeline *model.Pipeline, pipelineVersion *model.PipelineVersion) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pipeline model.Pipeline
		if err := tx.Where("name = ?", name).Take(&pipeline).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return common.NewErrNo(common.PipelineNotExists)
			}
			return err
		}

		pipeline.Description = newPipeline.Description
		pipeline.LatestVersion += 1
		if err := tx.Save(&pipeline).Error; err != nil {
			return err
		}

		pipelineVersion.PipelineID = pipeline.ID
		pipelineVersion.Version = pipeline.LatestVersion
		if err := tx.Create(pipelineVersion).Error; err != nil {
			return err
		}
		*newPipeline = pipeline
		return nil
	})
}

func (d *pipelineDAO) GetPipelineByName(ctx context.Context, name string) (*model.Pipeline, *model.PipelineVersion, error) {
	var pipeline model.Pipeline
	err := db.WithContext(ctx).Where("name = ?", name).Take(&pipeline).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, common.NewErrNo(common.PipelineNotExists)
		}
		return nil, nil, err
	}

	pipelineVersion, err := d.takeVersion(ctx, pipeline.ID, pipeline.LatestVersion)
	if err != nil {
		return nil, nil, err
	}
	return &pipeline, pipelineVersion, nil
}

func (d *pipelineDAO) GetAllPipelines(ctx context.Context) ([]*model.Pipeline, error) {
	var pipelines []*model.Pipeline
	if err := db.WithContext(ctx).Order("name").Find(&pipelines).Error; err != nil {
		return nil, err
	}
	return pipelines, nil
}

func (d *pipelineDAO) GetAllPipelineVersions(ctx context.Context) ([]*model.PipelineVersion, error) {
	pipelines, err := d.GetAllPipelines(ctx)
	if err != nil {
		return nil, err
	}

	pipelineVersions := make([]*model.PipelineVersion, 0, len(pipelines))
	for _, pipeline := range pipelines {
		pipelineVersion, err := d.takeVersion(ctx, pipeline.ID, pipeline.LatestVersion)
		if err != nil {
			return nil, err
		}
		pipelineVersions = append(pipelineVersions, pipelineVersion)
	}
	return pipelineVersions, nil
}

func (d *pipelineDAO) GetPipelineVersion(ctx context.Context, name string, version int) (*model.PipelineVersion, error) {
	var pipeline model.Pipeline
	if err := db.WithContext(ctx).Where("name = ?", name).Take(&pipeline).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewErrNo(common.PipelineNotExists)
		}
		return nil, err
	}
	return d.takeVersion(ctx, pipeline.ID, version)
}

func (d *pipelineDAO) takeVersion(ctx context.Context, pipelineID uint, version int) (*model.PipelineVersion, error) {
	var pipelineVersion model.PipelineVersion
	err := db.WithContext(ctx).
		Where("pipeline_id = ? AND version = ?", pipelineID, version).
		Take(&pipelineVersion).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewErrNo(common.PipelineNotExists)
		}
		return nil, err
	}
	return &pipelineVersion, nil
}
