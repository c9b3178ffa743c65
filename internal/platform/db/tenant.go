package db

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	TenantIDKey contextKey = "tenant_id"
	DBConnKey   contextKey = "db_conn"
)

// schemaPrefix separates tenant schemas from shared ones in the same
// database. tenant "clinic_a" lives in schema "tenant_clinic_a".
const schemaPrefix = "tenant_"

// Tenant identifiers become schema names, so only characters that need no
// quoting are allowed.
var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// scopeConn pins conn's search_path to the tenant schema. shared and public
// stay on the path for extensions and cross-tenant lookup tables.
func scopeConn(ctx context.Context, conn *pgxpool.Conn, tenantID string) error {
	_, err := conn.Exec(ctx, "SET search_path TO "+schemaPrefix+tenantID+", shared, public")
	return err
}

// tenantContext returns ctx carrying the tenant id and its scoped
// connection, which is what repositories resolve through conn(ctx).
func tenantContext(ctx context.Context, tenantID string, conn *pgxpool.Conn) context.Context {
	ctx = context.WithValue(ctx, TenantIDKey, tenantID)
	return context.WithValue(ctx, DBConnKey, conn)
}

// TenantMiddleware resolves the tenant for each request and pins a pooled
// connection to that tenant's schema for the request's lifetime. Everything
// below the middleware is tenant-blind: repositories just use the
// connection they find in the context.
func TenantMiddleware(pool *pgxpool.Pool, defaultTenant string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := resolveTenantID(c, defaultTenant)
			if !tenantIDPattern.MatchString(tenantID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			if err := scopeConn(ctx, conn, tenantID); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "tenant resolution failed")
			}

			c.SetRequest(c.Request().WithContext(tenantContext(ctx, tenantID, conn)))
			c.Set("tenant_id", tenantID)
			c.Set("db", conn)
			return next(c)
		}
	}
}

// resolveTenantID picks the request's tenant. The JWT claim wins over the
// X-Tenant-ID header, which wins over the query parameter; unauthenticated
// single-tenant deployments fall through to the default.
func resolveTenantID(c echo.Context, defaultTenant string) string {
	if tid, ok := c.Get("jwt_tenant_id").(string); ok && tid != "" {
		return tid
	}
	if tid := c.Request().Header.Get("X-Tenant-ID"); tid != "" {
		return tid
	}
	if tid := c.QueryParam("tenant_id"); tid != "" {
		return tid
	}
	return defaultTenant
}

// WithTenant acquires a connection scoped to tenantID's schema and runs fn
// with a context carrying it, mirroring what TenantMiddleware does for
// requests. Background jobs run through this so their reads and writes land
// in the same schemas the API serves, never in the connection default
// search_path.
func WithTenant(ctx context.Context, pool *pgxpool.Pool, tenantID string, fn func(ctx context.Context) error) error {
	if !tenantIDPattern.MatchString(tenantID) {
		return fmt.Errorf("invalid tenant identifier %q", tenantID)
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if err := scopeConn(ctx, conn, tenantID); err != nil {
		return fmt.Errorf("scope connection to tenant %s: %w", tenantID, err)
	}
	return fn(tenantContext(ctx, tenantID, conn))
}

// ListTenantIDs enumerates the tenants provisioned in the database, derived
// from the schemas carrying the tenant prefix.
func ListTenantIDs(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(ctx,
		"SELECT nspname FROM pg_namespace WHERE nspname LIKE $1 ORDER BY nspname",
		schemaPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("list tenant schemas: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var schema string
		if err := rows.Scan(&schema); err != nil {
			return nil, fmt.Errorf("scan schema name: %w", err)
		}
		ids = append(ids, strings.TrimPrefix(schema, schemaPrefix))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenant schemas: %w", err)
	}
	return ids, nil
}

// ConnFromContext returns the tenant-scoped connection in ctx, if any.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// TenantFromContext returns the tenant id in ctx, if any.
func TenantFromContext(ctx context.Context) string {
	tid, _ := ctx.Value(TenantIDKey).(string)
	return tid
}

// CreateTenantSchema provisions the schema for a new tenant and, when
// migrationsDir is non-empty, brings it to the current migration version.
func CreateTenantSchema(ctx context.Context, pool *pgxpool.Pool, tenantID string, migrationsDir string) error {
	if !tenantIDPattern.MatchString(tenantID) {
		return fmt.Errorf("invalid tenant identifier: %s", tenantID)
	}
	schema := schemaPrefix + tenantID

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrationsDir != "" {
		if _, err := NewMigrator(pool, migrationsDir).Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}
	return nil
}
