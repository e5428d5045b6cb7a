package session

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/kasuganosora/dal/pkg/config"
)

// Flavor identifies the SQL engine behind a factory
type Flavor string

const (
	FlavorMySQL    Flavor = "mysql"
	FlavorPostgres Flavor = "postgres"
	FlavorSQLite   Flavor = "sqlite"
)

// DriverName returns the database/sql driver name registered for the flavor
func (f Flavor) DriverName() string {
	return string(f)
}

// driverAliases accepts Go driver names and the JDBC driver classes found in
// older data source configurations
var driverAliases = map[string]Flavor{
	"mysql":                    FlavorMySQL,
	"mariadb":                  FlavorMySQL,
	"com.mysql.jdbc.driver":    FlavorMySQL,
	"com.mysql.cj.jdbc.driver": FlavorMySQL,
	"org.mariadb.jdbc.driver":  FlavorMySQL,
	"postgres":                 FlavorPostgres,
	"postgresql":               FlavorPostgres,
	"org.postgresql.driver":    FlavorPostgres,
	"sqlite":                   FlavorSQLite,
	"sqlite3":                  FlavorSQLite,
	"org.sqlite.jdbc":          FlavorSQLite,
}

// ResolveFlavor maps a configured driver name to a Flavor
func ResolveFlavor(driver string) (Flavor, error) {
	flavor, ok := driverAliases[strings.ToLower(strings.TrimSpace(driver))]
	if !ok {
		return "", fmt.Errorf("unsupported driver %q", driver)
	}
	return flavor, nil
}

// BuildDSN converts the configured URL into the connection string the
// flavor's driver expects. Native DSNs pass through; jdbc: URLs are
// translated. Credentials from the config take precedence over the URL.
func BuildDSN(flavor Flavor, cfg *config.DataSourceConfig) (string, error) {
	switch flavor {
	case FlavorMySQL:
		return buildMySQLDSN(cfg)
	case FlavorPostgres:
		return buildPostgresDSN(cfg)
	case FlavorSQLite:
		return buildSQLiteDSN(cfg)
	default:
		return "", fmt.Errorf("unsupported flavor %q", flavor)
	}
}

// jdbc-only parameters that have no go-sql-driver equivalent
var mysqlIgnoredParams = map[string]bool{
	"usessl":                   true,
	"useunicode":               true,
	"characterencoding":        true,
	"servertimezone":           true,
	"rewritebatchedstatements": true,
	"autoreconnect":            true,
	"allowpublickeyretrieval":  true,
	"zerodatetimebehavior":     true,
	"uselegacydatetimecode":    true,
}

func buildMySQLDSN(cfg *config.DataSourceConfig) (string, error) {
	raw := strings.TrimPrefix(cfg.URL, "jdbc:")

	var mc *mysqldriver.Config
	if strings.HasPrefix(raw, "mysql://") || strings.HasPrefix(raw, "mariadb://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("parse mysql url: %w", err)
		}

		mc = mysqldriver.NewConfig()
		mc.Net = "tcp"
		host := u.Hostname()
		port := u.Port()
		if port == "" {
			port = "3306"
		}
		mc.Addr = net.JoinHostPort(host, port)
		mc.DBName = strings.TrimPrefix(u.Path, "/")
		if u.User != nil {
			mc.User = u.User.Username()
			mc.Passwd, _ = u.User.Password()
		}

		q := u.Query()
		if v := q.Get("useSSL"); v != "" {
			if b, _ := strconv.ParseBool(v); b {
				mc.TLSConfig = "true"
			} else {
				mc.TLSConfig = "false"
			}
		}
		if v := q.Get("serverTimezone"); v != "" {
			loc, err := time.LoadLocation(v)
			if err != nil {
				return "", fmt.Errorf("invalid serverTimezone %q: %w", v, err)
			}
			mc.Loc = loc
		}
		if v := q.Get("connectTimeout"); v != "" {
			// jdbc connectTimeout is milliseconds
			if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
				mc.Timeout = time.Duration(ms) * time.Millisecond
			}
		}
		for key, values := range q {
			if mysqlIgnoredParams[strings.ToLower(key)] || key == "connectTimeout" || len(values) == 0 {
				continue
			}
			if mc.Params == nil {
				mc.Params = make(map[string]string)
			}
			mc.Params[key] = values[0]
		}
	} else {
		parsed, err := mysqldriver.ParseDSN(raw)
		if err != nil {
			return "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		mc = parsed
	}

	if cfg.User != "" {
		mc.User = cfg.User
	}
	if cfg.Password != "" {
		mc.Passwd = cfg.Password
	}
	mc.ParseTime = true
	mc.AllowNativePasswords = true

	return mc.FormatDSN(), nil
}

func buildPostgresDSN(cfg *config.DataSourceConfig) (string, error) {
	raw := strings.TrimPrefix(cfg.URL, "jdbc:")

	if !strings.Contains(raw, "://") {
		// key=value form
		parts := []string{raw}
		if cfg.User != "" {
			parts = append(parts, "user="+quotePostgresValue(cfg.User))
		}
		if cfg.Password != "" {
			parts = append(parts, "password="+quotePostgresValue(cfg.Password))
		}
		if !strings.Contains(raw, "sslmode=") {
			parts = append(parts, "sslmode=disable")
		}
		return strings.TrimSpace(strings.Join(parts, " ")), nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse postgres url: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("unexpected postgres url scheme %q", u.Scheme)
	}
	u.Scheme = "postgres"

	user, pass := "", ""
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
	}

	q := u.Query()
	// jdbc spells these differently
	if v := q.Get("user"); v != "" {
		user = v
		q.Del("user")
	}
	if v := q.Get("password"); v != "" {
		pass = v
		q.Del("password")
	}
	if v := q.Get("currentSchema"); v != "" {
		q.Set("search_path", v)
		q.Del("currentSchema")
	}
	if v := q.Get("ssl"); v != "" {
		if b, _ := strconv.ParseBool(v); b {
			q.Set("sslmode", "require")
		} else {
			q.Set("sslmode", "disable")
		}
		q.Del("ssl")
	}
	if v := q.Get("connectTimeout"); v != "" {
		q.Set("connect_timeout", v)
		q.Del("connectTimeout")
	}
	if q.Get("sslmode") == "" {
		q.Set("sslmode", "disable")
	}

	if cfg.User != "" {
		user = cfg.User
	}
	if cfg.Password != "" {
		pass = cfg.Password
	}
	switch {
	case user != "" && pass != "":
		u.User = url.UserPassword(user, pass)
	case user != "":
		u.User = url.User(user)
	default:
		u.User = nil
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func quotePostgresValue(v string) string {
	if v == "" || strings.ContainsAny(v, ` '\`) {
		v = strings.ReplaceAll(v, `\`, `\\`)
		v = strings.ReplaceAll(v, `'`, `\'`)
		return "'" + v + "'"
	}
	return v
}

func buildSQLiteDSN(cfg *config.DataSourceConfig) (string, error) {
	raw := strings.TrimPrefix(cfg.URL, "jdbc:")
	raw = strings.TrimPrefix(raw, "sqlite://")
	raw = strings.TrimPrefix(raw, "sqlite:")
	if raw == "" {
		return "", fmt.Errorf("sqlite url has no database path")
	}
	if raw == ":memory:" {
		return raw, nil
	}

	// connections in the pool wait for each other instead of failing with SQLITE_BUSY
	if !strings.Contains(raw, "busy_timeout") {
		sep := "?"
		if strings.Contains(raw, "?") {
			sep = "&"
		}
		raw += sep + "_pragma=busy_timeout(5000)"
	}
	return raw, nil
}
