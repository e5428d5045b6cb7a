package mapper

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kasuganosora/dal/pkg/api"
)

// Handle 会话暴露的 GORM 句柄. pkg/session 的会话实现了它
type Handle interface {
	DB() *gorm.DB
}

func handleOf(s api.Session) (Handle, error) {
	h, ok := s.(Handle)
	if !ok {
		return nil, fmt.Errorf("session %s (%T) has no gorm handle", s.ID(), s)
	}
	return h, nil
}

// Row 一行数据, 列名到值
type Row = map[string]interface{}

// TableMapper 按表名读写行数据
type TableMapper struct {
	h     Handle
	table string
	key   string
}

// TableMapperType 返回表 mapper 的描述符, 名称为表名
func TableMapperType(table string) api.MapperType[*TableMapper] {
	return api.NewMapperType[*TableMapper](table)
}

// RegisterTable 注册表 mapper. keyColumn 是 Update/Delete 的定位列
func RegisterTable(r *api.MapperRegistry, table, keyColumn string) error {
	if table == "" {
		return api.NewError(api.ErrCodeInvalidParam, "table name cannot be empty", nil)
	}
	if keyColumn == "" {
		return api.NewError(api.ErrCodeInvalidParam, "key column of table '"+table+"' cannot be empty", nil)
	}

	return api.RegisterMapper(r, TableMapperType(table), func(s api.Session) (*TableMapper, error) {
		h, err := handleOf(s)
		if err != nil {
			return nil, err
		}
		return &TableMapper{h: h, table: table, key: keyColumn}, nil
	})
}

// Table 返回表名
func (m *TableMapper) Table() string {
	return m.table
}

// Insert 插入一行
func (m *TableMapper) Insert(row Row) (int, error) {
	if len(row) == 0 {
		return 0, fmt.Errorf("insert into %s: empty row", m.table)
	}

	res := m.h.DB().Table(m.table).Create(row)
	if res.Error != nil {
		return 0, fmt.Errorf("insert into %s: %w", m.table, res.Error)
	}
	return int(res.RowsAffected), nil
}

// Update 按主键更新
func (m *TableMapper) Update(key interface{}, row Row) (int, error) {
	if len(row) == 0 {
		return 0, nil
	}

	res := m.h.DB().Table(m.table).Where(m.keyEq(key)).Updates(row)
	if res.Error != nil {
		return 0, fmt.Errorf("update %s: %w", m.table, res.Error)
	}
	return int(res.RowsAffected), nil
}

// Delete 按主键删除
func (m *TableMapper) Delete(key interface{}) (int, error) {
	res := m.h.DB().Exec("DELETE FROM ? WHERE ? = ?",
		clause.Table{Name: m.table}, clause.Column{Name: m.key}, key)
	if res.Error != nil {
		return 0, fmt.Errorf("delete from %s: %w", m.table, res.Error)
	}
	return int(res.RowsAffected), nil
}

// Get 按主键读取一行, 不存在时返回 gorm.ErrRecordNotFound
func (m *TableMapper) Get(key interface{}) (Row, error) {
	row := Row{}
	res := m.h.DB().Table(m.table).Where(m.keyEq(key)).Take(&row)
	if res.Error != nil {
		return nil, res.Error
	}
	return row, nil
}

func (m *TableMapper) keyEq(key interface{}) clause.Eq {
	return clause.Eq{Column: clause.Column{Name: m.key}, Value: key}
}
