package sharding

import "strings"

// DatabaseEngine selects the SQL dialect details: quoting, parameter style and
// MySQL only syntax.
type DatabaseEngine int

const (
	EngineUnknown DatabaseEngine = iota
	EnginePostgreSQL
	EngineMySQL
	EngineSQLite
)

func (e DatabaseEngine) String() string {
	switch e {
	case EnginePostgreSQL:
		return "postgres"
	case EngineMySQL:
		return "mysql"
	case EngineSQLite:
		return "sqlite"
	}
	return "unknown"
}

// EngineFromDialector maps a gorm dialector name onto an engine.
func EngineFromDialector(name string) DatabaseEngine {
	switch strings.ToLower(name) {
	case "postgres", "postgresql":
		return EnginePostgreSQL
	case "mysql":
		return EngineMySQL
	case "sqlite", "sqlite3":
		return EngineSQLite
	}
	return EngineUnknown
}

func (s *Sharding) setDatabaseEngine() {
	if s.config.Engine != EngineUnknown {
		s.engine = s.config.Engine
		return
	}
	s.engine = EngineFromDialector(s.DB.Dialector.Name())
	if s.engine == EngineUnknown {
		s.engine = EnginePostgreSQL
		if DefaultLogLevel >= LogLevelInfo {
			infoLog("unknown dialector %s, parsing statements as postgres", s.DB.Dialector.Name())
		}
	}
}
