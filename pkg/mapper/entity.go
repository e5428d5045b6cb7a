package mapper

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/kasuganosora/dal/pkg/api"
)

// EntityMapper 基于 GORM 模型的类型化 mapper
type EntityMapper[T any] struct {
	h Handle
}

// EntityMapperType 返回模型 mapper 的描述符
func EntityMapperType[T any](name string) api.MapperType[*EntityMapper[T]] {
	return api.NewMapperType[*EntityMapper[T]](name)
}

// RegisterEntity 注册模型 mapper
func RegisterEntity[T any](r *api.MapperRegistry, mt api.MapperType[*EntityMapper[T]]) error {
	return api.RegisterMapper(r, mt, func(s api.Session) (*EntityMapper[T], error) {
		h, err := handleOf(s)
		if err != nil {
			return nil, err
		}
		return &EntityMapper[T]{h: h}, nil
	})
}

// Insert 插入实体, 自增主键会回填
func (m *EntityMapper[T]) Insert(entity *T) (int, error) {
	if entity == nil {
		return 0, nil
	}
	return affected(m.h.DB().Create(entity), "insert")
}

// Save 按主键插入或更新全部字段
func (m *EntityMapper[T]) Save(entity *T) (int, error) {
	if entity == nil {
		return 0, nil
	}
	return affected(m.h.DB().Save(entity), "save")
}

// Delete 按主键删除
func (m *EntityMapper[T]) Delete(entity *T) (int, error) {
	if entity == nil {
		return 0, nil
	}
	return affected(m.h.DB().Delete(entity), "delete")
}

// Find 按主键读取
func (m *EntityMapper[T]) Find(id interface{}) (*T, error) {
	var out T
	if err := m.h.DB().Take(&out, id).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func affected(res *gorm.DB, op string) (int, error) {
	if res.Error != nil {
		return 0, fmt.Errorf("%s %T: %w", op, res.Statement.Dest, res.Error)
	}
	return int(res.RowsAffected), nil
}

// AutoMigrate 为模型建表或补齐字段
func AutoMigrate[T any](db *gorm.DB) error {
	var model T
	return db.AutoMigrate(&model)
}
