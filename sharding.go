package sharding

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"gorm.io/gorm"
)

var (
	ShardingIgnoreStoreKey = "sharding_ignore"
)

// Sharding is a gorm plugin that routes and rewrites every statement of the
// db it is registered on.
type Sharding struct {
	*gorm.DB
	ConnPool *ShardConnPool

	config Config
	engine DatabaseEngine
	binder *Binder
	router atomic.Pointer[Router]
	querys sync.Map

	mutex sync.RWMutex
}

// Config specifies the configuration for sharding.
type Config struct {
	// Rule routes statements. When nil, the rules section of the loaded
	// configuration file is used.
	Rule *ShardingRule

	// DataSources maps data source names of the rule to connection pools.
	// Units on a data source without a pool run on the db's own connection.
	DataSources map[string]gorm.ConnPool

	// Engine overrides the dialect detected from the gorm dialector.
	Engine DatabaseEngine

	// StatementCacheSize bounds the bound statement cache. Zero reads
	// SHARDING_STATEMENT_CACHE_SIZE, a negative size disables the cache.
	StatementCacheSize int

	// RouterOptions are passed to every router built by the plugin.
	RouterOptions []RouterOption
}

// Register creates the plugin. Use it with db.Use.
//
//	db.Use(sharding.Register(sharding.Config{
//		Rule:        rule,
//		DataSources: map[string]gorm.ConnPool{"ds_1": otherDB},
//	}))
func Register(config Config) *Sharding {
	return &Sharding{config: config}
}

// Name plugin name for Gorm plugin interface
func (s *Sharding) Name() string {
	return "gorm:sharding"
}

// LastQuery get last SQL query
func (s *Sharding) LastQuery() string {
	if query, ok := s.querys.Load("last_query"); ok {
		return query.(string)
	}

	return ""
}

// Initialize implement for Gorm plugin interface
func (s *Sharding) Initialize(db *gorm.DB) error {
	s.DB = db
	s.setDatabaseEngine()

	cache := NewStatementCacheFromEnv()
	if s.config.StatementCacheSize != 0 {
		cache = NewStatementCache(s.config.StatementCacheSize)
	}
	s.binder = NewBinder(s.engine, cache)

	rule := s.config.Rule
	if rule == nil {
		var err error
		if rule, err = BuildRule(); err != nil {
			return fmt.Errorf("init sharding rule error, %w", err)
		}
	}
	if err := s.Reload(rule); err != nil {
		return err
	}

	s.registerCallbacks(db)
	if DefaultLogLevel >= LogLevelInfo {
		infoLog("sharding enabled on %s for %d table rule(s) over %d data source(s)",
			s.engine, len(s.Router().Rule().TableRules), len(s.Router().Rule().DataSourceNames))
	}
	return nil
}

// Reload swaps the rule used for new statements. Statements already being
// routed finish on the previous rule.
func (s *Sharding) Reload(rule *ShardingRule) error {
	router, err := NewRouter(rule, s.config.RouterOptions...)
	if err != nil {
		return err
	}
	for name := range s.config.DataSources {
		if !containsFold(router.Rule().DataSourceNames, name) {
			return fmt.Errorf("%w: pool given for unknown data source %s", ErrInvalidRule, name)
		}
	}
	s.router.Store(router)
	return nil
}

// Router returns the router of the current rule.
func (s *Sharding) Router() *Router {
	return s.router.Load()
}

// Binder returns the statement binder of the plugin.
func (s *Sharding) Binder() *Binder {
	return s.binder
}

func (s *Sharding) registerCallbacks(db *gorm.DB) {
	s.Callback().Create().Before("*").Register("gorm:sharding", s.switchConn)
	s.Callback().Query().Before("*").Register("gorm:sharding", s.switchConn)
	s.Callback().Update().Before("*").Register("gorm:sharding", s.switchConn)
	s.Callback().Delete().Before("*").Register("gorm:sharding", s.switchConn)
	s.Callback().Row().Before("*").Register("gorm:sharding", s.switchConn)
	s.Callback().Raw().Before("*").Register("gorm:sharding", s.switchConn)
}

func (s *Sharding) switchConn(db *gorm.DB) {
	// Support ignore sharding in some case, like migrations that query
	// schema information by logic table name.
	if _, ok := db.Get(ShardingIgnoreStoreKey); ok {
		return
	}
	if db.Statement.ConnPool == nil {
		return
	}
	if _, wrapped := db.Statement.ConnPool.(*ShardConnPool); wrapped {
		return
	}

	pool := &ShardConnPool{ConnPool: db.Statement.ConnPool, sharding: s}
	s.mutex.Lock()
	s.ConnPool = pool
	s.mutex.Unlock()
	db.Statement.ConnPool = pool
}

// shardedQuery is a statement routed and rewritten for execution.
type shardedQuery struct {
	stmt   *Statement
	result *RouteResult
	units  []*SQLUnit
}

// resolve binds, routes and rewrites query. A nil result means the query runs
// unchanged.
func (s *Sharding) resolve(query string, args ...interface{}) (*shardedQuery, error) {
	if isSystemQuery(query) || hasNoShardingHint(query) {
		return nil, nil
	}
	router := s.Router()
	if router == nil {
		return nil, errors.New("sharding plugin is not initialized")
	}

	stmt, err := s.binder.Bind(query)
	if err != nil {
		return nil, fmt.Errorf("error parsing query: %w", err)
	}
	result, err := router.Route(stmt, args)
	if err != nil {
		return nil, err
	}
	units, err := router.RewriteAll(stmt, result)
	if err != nil {
		return nil, err
	}

	if len(units) > 0 {
		rewritten := make([]string, len(units))
		for i, u := range units {
			rewritten[i] = u.SQL
		}
		s.querys.Store("last_query", strings.Join(rewritten, "; "))
	}
	return &shardedQuery{stmt: stmt, result: result, units: units}, nil
}

// readUnit picks the single unit a query runs on. Broadcast reads use the
// first replica; statements whose conditions can never match run on one
// node so the database returns the empty result.
func (s *Sharding) readUnit(q *shardedQuery) (*SQLUnit, error) {
	switch {
	case len(q.units) == 1:
		return q.units[0], nil
	case len(q.units) > 1:
		if s.broadcastOnly(q.stmt) {
			return q.units[0], nil
		}
		return nil, fmt.Errorf("%w: %d units for %s", ErrMultipleRouteUnits, len(q.units), q.stmt.SQL)
	}
	router := s.Router()
	unit, err := s.anyUnit(q.stmt)
	if err != nil {
		return nil, err
	}
	sqlUnit, err := router.Rewrite(q.stmt, q.result, unit)
	if err != nil {
		return nil, err
	}
	s.querys.Store("last_query", sqlUnit.SQL)
	return sqlUnit, nil
}

func (s *Sharding) broadcastOnly(stmt *Statement) bool {
	tables := stmt.LogicTables()
	if len(tables) == 0 {
		return false
	}
	rule := s.Router().Rule()
	for _, t := range tables {
		if !rule.IsBroadcastTable(t) {
			return false
		}
	}
	return true
}

// anyUnit maps every table of stmt onto its first data node in one data
// source.
func (s *Sharding) anyUnit(stmt *Statement) (RouteUnit, error) {
	rule := s.Router().Rule()
	unit := RouteUnit{}
	for _, t := range stmt.LogicTables() {
		if tr, ok := rule.TableRule(t); ok && unit.DataSource == "" {
			unit.DataSource = tr.ActualDataNodes[0].DataSource
		}
	}
	if unit.DataSource == "" {
		ds, err := rule.DataSourceFor(strings.Join(stmt.LogicTables(), ", "))
		if err != nil {
			return unit, err
		}
		unit.DataSource = ds
	}
	for _, t := range stmt.LogicTables() {
		actual := t
		if tr, ok := rule.TableRule(t); ok {
			tables := tr.ActualTables(unit.DataSource)
			if len(tables) == 0 {
				return unit, fmt.Errorf("%w: %s has no node in %s", ErrNoDataSource, t, unit.DataSource)
			}
			actual = tables[0]
		}
		unit.TableMappers = append(unit.TableMappers, TableMapper{Logic: t, Actual: actual})
	}
	return unit, nil
}

// pool returns the connection of a data source. Inside a transaction only the
// data source the transaction was begun on can be used, through the
// transaction itself.
func (s *Sharding) pool(dataSource string, current gorm.ConnPool) (gorm.ConnPool, error) {
	p, ok := s.config.DataSources[dataSource]
	if !ok {
		for name, candidate := range s.config.DataSources {
			if strings.EqualFold(name, dataSource) {
				p, ok = candidate, true
				break
			}
		}
	}
	if !ok {
		return current, nil
	}
	if _, inTx := current.(gorm.TxCommitter); inTx {
		if samePool(p, s.txOrigin(current)) {
			return current, nil
		}
		return nil, fmt.Errorf("%w: data source %s", ErrDistributedTransaction, dataSource)
	}
	return p, nil
}

// txOrigin is the pool a transaction was begun from. Transactions begun by
// gorm itself come from the db's own pool.
func (s *Sharding) txOrigin(tx gorm.ConnPool) gorm.ConnPool {
	if committer, ok := tx.(*ShardTxCommitter); ok && committer.origin != nil {
		return committer.origin
	}
	if s.DB == nil {
		return nil
	}
	return s.DB.ConnPool
}

func samePool(a, b gorm.ConnPool) bool {
	if a == nil || b == nil {
		return false
	}
	return reflect.TypeOf(a).Comparable() && a == b
}

// hasNoShardingHint matches hints.Comment(clause, "nosharding") and
// hints.New("nosharding").
func hasNoShardingHint(query string) bool {
	return strings.Contains(query, "/* nosharding */") || strings.Contains(query, "/*+ nosharding */")
}

func containsFold(names []string, name string) bool {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

func isSystemQuery(query string) bool {
	systemTables := []string{
		"information_schema",
		"pg_catalog",
		"pg_namespace",
		"sqlite_master",
		"current_database()",
	}
	lowerQuery := strings.ToLower(query)
	for _, sysTable := range systemTables {
		if strings.Contains(lowerQuery, sysTable) {
			return true
		}
	}
	return false
}
