package session

import (
	"regexp"
	"strconv"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/callbacks"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/migrator"
	"gorm.io/gorm/schema"
)

var numericPlaceholder = regexp.MustCompile(`\$(\d+)`)

// Dialector 让 GORM 复用工厂已经打开的 *sql.DB 连接池
type Dialector struct {
	Flavor Flavor
	Conn   gorm.ConnPool
}

// NewDialector 创建指定方言的 GORM 驱动
func NewDialector(flavor Flavor, conn gorm.ConnPool) *Dialector {
	return &Dialector{Flavor: flavor, Conn: conn}
}

// Name 返回数据库方言名称
func (d *Dialector) Name() string {
	return string(d.Flavor)
}

// Initialize 注册默认回调并挂载连接池
func (d *Dialector) Initialize(db *gorm.DB) error {
	cfg := &callbacks.Config{}
	if d.Flavor == FlavorPostgres {
		// lib/pq has no LastInsertId
		cfg.CreateClauses = []string{"INSERT", "VALUES", "ON CONFLICT", "RETURNING"}
		cfg.UpdateClauses = []string{"UPDATE", "SET", "FROM", "WHERE", "RETURNING"}
		cfg.DeleteClauses = []string{"DELETE", "FROM", "WHERE", "RETURNING"}
	}
	callbacks.RegisterDefaultCallbacks(db, cfg)

	if d.Conn != nil {
		db.ConnPool = d.Conn
	}
	return nil
}

// Migrator 提供数据库迁移工具
func (d *Dialector) Migrator(db *gorm.DB) gorm.Migrator {
	return Migrator{
		Migrator: migrator.Migrator{Config: migrator.Config{
			DB:                          db,
			Dialector:                   d,
			CreateIndexAfterCreateTable: true,
		}},
		flavor: d.Flavor,
	}
}

// DataTypeOf 确定架构字段的数据类型
func (d *Dialector) DataTypeOf(field *schema.Field) string {
	switch d.Flavor {
	case FlavorPostgres:
		return postgresDataType(field)
	case FlavorSQLite:
		return sqliteDataType(field)
	default:
		return mysqlDataType(field)
	}
}

func mysqlDataType(field *schema.Field) string {
	switch field.DataType {
	case schema.Bool:
		return "boolean"
	case schema.Int, schema.Uint:
		var t string
		switch {
		case field.Size <= 8:
			t = "tinyint"
		case field.Size <= 16:
			t = "smallint"
		case field.Size <= 32:
			t = "int"
		default:
			t = "bigint"
		}
		if field.DataType == schema.Uint {
			t += " unsigned"
		}
		if field.AutoIncrement {
			t += " AUTO_INCREMENT"
		}
		return t
	case schema.Float:
		if field.Size <= 32 {
			return "float"
		}
		return "double"
	case schema.String:
		size := field.Size
		if size == 0 {
			if field.PrimaryKey || field.HasDefaultValue || len(field.TagSettings["INDEX"]) > 0 || len(field.TagSettings["UNIQUEINDEX"]) > 0 {
				size = 191
			}
		}
		if size > 0 && size < 65536 {
			return "varchar(" + strconv.Itoa(size) + ")"
		}
		return "longtext"
	case schema.Time:
		return "datetime(3)"
	case schema.Bytes:
		return "longblob"
	}
	return string(field.DataType)
}

func postgresDataType(field *schema.Field) string {
	switch field.DataType {
	case schema.Bool:
		return "boolean"
	case schema.Int, schema.Uint:
		if field.AutoIncrement {
			if field.Size <= 32 {
				return "serial"
			}
			return "bigserial"
		}
		switch {
		case field.Size <= 16:
			return "smallint"
		case field.Size <= 32:
			return "integer"
		default:
			return "bigint"
		}
	case schema.Float:
		if field.Precision > 0 {
			if field.Scale > 0 {
				return "numeric(" + strconv.Itoa(field.Precision) + "," + strconv.Itoa(field.Scale) + ")"
			}
			return "numeric(" + strconv.Itoa(field.Precision) + ")"
		}
		return "decimal"
	case schema.String:
		if field.Size > 0 {
			return "varchar(" + strconv.Itoa(field.Size) + ")"
		}
		return "text"
	case schema.Time:
		return "timestamptz"
	case schema.Bytes:
		return "bytea"
	}
	return string(field.DataType)
}

func sqliteDataType(field *schema.Field) string {
	switch field.DataType {
	case schema.Bool:
		return "numeric"
	case schema.Int, schema.Uint:
		if field.AutoIncrement {
			return "integer PRIMARY KEY AUTOINCREMENT"
		}
		return "integer"
	case schema.Float:
		return "real"
	case schema.String:
		return "text"
	case schema.Time:
		return "datetime"
	case schema.Bytes:
		return "blob"
	}
	return string(field.DataType)
}

// DefaultValueOf 提供架构字段的默认值
func (d *Dialector) DefaultValueOf(field *schema.Field) clause.Expression {
	if d.Flavor == FlavorSQLite {
		return clause.Expr{SQL: "NULL"}
	}
	return clause.Expr{SQL: "DEFAULT"}
}

// BindVarTo 处理 SQL 语句中的变量绑定
func (d *Dialector) BindVarTo(writer clause.Writer, stmt *gorm.Statement, v interface{}) {
	if d.Flavor == FlavorPostgres {
		writer.WriteByte('$')
		writer.WriteString(strconv.Itoa(len(stmt.Vars)))
		return
	}
	writer.WriteByte('?')
}

// QuoteTo 管理标识符的引号, 支持 schema.table 形式
func (d *Dialector) QuoteTo(writer clause.Writer, str string) {
	quote := byte('`')
	if d.Flavor == FlavorPostgres {
		quote = '"'
	}

	for i, part := range strings.Split(str, ".") {
		if i > 0 {
			writer.WriteByte('.')
		}
		if part == "*" {
			writer.WriteByte('*')
			continue
		}
		writer.WriteByte(quote)
		writer.WriteString(strings.ReplaceAll(part, string(quote), string([]byte{quote, quote})))
		writer.WriteByte(quote)
	}
}

// Explain 格式化带有变量的 SQL 语句, 仅用于日志
func (d *Dialector) Explain(sql string, vars ...interface{}) string {
	if d.Flavor == FlavorPostgres {
		return logger.ExplainSQL(sql, numericPlaceholder, `'`, vars...)
	}
	return logger.ExplainSQL(sql, nil, `'`, vars...)
}

// Migrator 在通用迁移器上修正各方言的表探测语句
type Migrator struct {
	migrator.Migrator
	flavor Flavor
}

// CurrentDatabase 返回当前数据库名
func (m Migrator) CurrentDatabase() (name string) {
	switch m.flavor {
	case FlavorPostgres:
		m.DB.Raw("SELECT CURRENT_DATABASE()").Row().Scan(&name)
	case FlavorSQLite:
		name = "main"
	default:
		return m.Migrator.CurrentDatabase()
	}
	return name
}

// HasTable 检查表是否存在
func (m Migrator) HasTable(value interface{}) bool {
	var count int64

	switch m.flavor {
	case FlavorSQLite:
		m.RunWithValue(value, func(stmt *gorm.Statement) error {
			return m.DB.Raw("SELECT count(*) FROM sqlite_master WHERE type = ? AND name = ?", "table", stmt.Table).Row().Scan(&count)
		})
	case FlavorPostgres:
		m.RunWithValue(value, func(stmt *gorm.Statement) error {
			return m.DB.Raw("SELECT count(*) FROM information_schema.tables WHERE table_schema = CURRENT_SCHEMA() AND table_name = ? AND table_type = ?", stmt.Table, "BASE TABLE").Row().Scan(&count)
		})
	default:
		return m.Migrator.HasTable(value)
	}

	return count > 0
}
