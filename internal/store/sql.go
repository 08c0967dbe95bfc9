package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"entornos-api-go/internal/apperr"
	"entornos-api-go/internal/models"
)

//go:embed schema_postgres.sql
var schemaPostgres string

//go:embed schema_sqlite.sql
var schemaSQLite string

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// SQLStore implements UserStore, EntornoStore and SubscriptionStore over
// database/sql. Postgres (lib/pq) is the production driver; SQLite (modernc)
// serves local development and tests.
type SQLStore struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// Open connects with the named driver and pings the database.
func Open(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// One connection keeps ":memory:" databases shared and serialises writers.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLStore{db: db, driver: driver, now: time.Now}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// RunMigrations creates tables if they don't exist
func (s *SQLStore) RunMigrations(ctx context.Context) error {
	schema := schemaPostgres
	if s.driver == DriverSQLite {
		schema = schemaSQLite
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// rebind rewrites "?" placeholders as "$1, $2, ..." for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			(code == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE"))
	}
	return false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// User methods

const userColumns = `id, nombre, apellido, correo, telefono, password_hash, rol, totp_secret, totp_enabled, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (models.User, error) {
	var user models.User
	var telefono sql.NullString
	err := row.Scan(&user.ID, &user.Nombre, &user.Apellido, &user.Correo, &telefono,
		&user.PasswordHash, &user.Rol, &user.TOTPSecret, &user.TOTPEnabled, &user.CreatedAt)
	if err != nil {
		return models.User{}, err
	}
	user.Telefono = telefono.String
	return user, nil
}

func (s *SQLStore) CreateUser(ctx context.Context, u models.User, password string) (models.User, error) {
	passwordHash, err := models.HashPassword(password)
	if err != nil {
		return models.User{}, err
	}

	u.ID = uuid.NewString()
	u.Correo = strings.ToLower(strings.TrimSpace(u.Correo))
	u.PasswordHash = passwordHash
	u.CreatedAt = s.timestamp()
	if u.Rol == "" {
		u.Rol = models.RoleUsuario
	}

	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		u.ID, u.Nombre, u.Apellido, u.Correo, nullString(u.Telefono),
		u.PasswordHash, u.Rol, u.TOTPSecret, u.TOTPEnabled, u.CreatedAt,
	)
	if isUniqueViolation(err) {
		return models.User{}, apperr.New(apperr.InvalidInput, "El correo o teléfono ya está registrado")
	}
	if err != nil {
		return models.User{}, err
	}
	return u, nil
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (models.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+userColumns+` FROM users WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, apperr.New(apperr.NotFound, "Usuario no encontrado")
	}
	return user, err
}

func (s *SQLStore) GetUserByLogin(ctx context.Context, correo, telefono string) (models.User, error) {
	var (
		conds []string
		args  []any
	)
	if correo != "" {
		conds = append(conds, "correo = ?")
		args = append(args, strings.ToLower(correo))
	}
	if telefono != "" {
		conds = append(conds, "telefono = ?")
		args = append(args, telefono)
	}
	if len(conds) == 0 {
		return models.User{}, apperr.New(apperr.InvalidInput, "Debes proporcionar correo o teléfono")
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE ` + strings.Join(conds, " OR ")
	if correo != "" && telefono != "" {
		// The two may name different users; the correo match wins.
		query += ` ORDER BY CASE WHEN correo = ? THEN 0 ELSE 1 END`
		args = append(args, strings.ToLower(correo))
	}
	user, err := scanUser(s.db.QueryRowContext(ctx, s.rebind(query+` LIMIT 1`), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, apperr.New(apperr.NotFound, "Usuario no encontrado con las credenciales proporcionadas")
	}
	return user, err
}

// 2FA methods

func (s *SQLStore) UpdateUser2FA(ctx context.Context, id, secret string, enabled bool) error {
	result, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE users SET totp_secret = ?, totp_enabled = ? WHERE id = ?`),
		secret, enabled, id,
	)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperr.New(apperr.NotFound, "Usuario no encontrado")
	}
	return nil
}

// Entorno methods

const entornoColumns = `id, usuario_id, nombre, estado, configuracion, created_at, updated_at`

func scanEntorno(row rowScanner) (models.Entorno, error) {
	var e models.Entorno
	var cfg string
	if err := row.Scan(&e.ID, &e.UsuarioID, &e.Nombre, &e.Estado, &cfg, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return models.Entorno{}, err
	}
	e.Configuracion = json.RawMessage(cfg)
	return e, nil
}

func configText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

func (s *SQLStore) CreateEntorno(ctx context.Context, e models.Entorno) (models.Entorno, error) {
	e.ID = uuid.NewString()
	e.CreatedAt = s.timestamp()
	e.UpdatedAt = e.CreatedAt
	e.Configuracion = json.RawMessage(configText(e.Configuracion))

	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO entornos (`+entornoColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.UsuarioID, e.Nombre, e.Estado, string(e.Configuracion), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return models.Entorno{}, err
	}
	return e, nil
}

func (s *SQLStore) GetEntorno(ctx context.Context, id string) (models.Entorno, error) {
	e, err := scanEntorno(s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+entornoColumns+` FROM entornos WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Entorno{}, apperr.New(apperr.NotFound, "Entorno no encontrado")
	}
	return e, err
}

func (s *SQLStore) ListEntornos(ctx context.Context, usuarioID string) ([]models.Entorno, error) {
	query := `SELECT ` + entornoColumns + ` FROM entornos`
	var args []any
	if usuarioID != "" {
		query += ` WHERE usuario_id = ?`
		args = append(args, usuarioID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entornos := []models.Entorno{}
	for rows.Next() {
		e, err := scanEntorno(rows)
		if err != nil {
			return nil, err
		}
		entornos = append(entornos, e)
	}
	return entornos, rows.Err()
}

func (s *SQLStore) UpdateEntorno(ctx context.Context, e models.Entorno) (models.Entorno, error) {
	e.UpdatedAt = s.timestamp()
	result, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE entornos SET nombre = ?, estado = ?, configuracion = ?, updated_at = ? WHERE id = ?`),
		e.Nombre, e.Estado, configText(e.Configuracion), e.UpdatedAt, e.ID,
	)
	if err != nil {
		return models.Entorno{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return models.Entorno{}, apperr.New(apperr.NotFound, "Entorno no encontrado")
	}
	return s.GetEntorno(ctx, e.ID)
}

func (s *SQLStore) SetEntornoEstado(ctx context.Context, id string, estado bool) (models.Entorno, error) {
	result, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE entornos SET estado = ?, updated_at = ? WHERE id = ?`),
		estado, s.timestamp(), id,
	)
	if err != nil {
		return models.Entorno{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return models.Entorno{}, apperr.New(apperr.NotFound, "Entorno no encontrado")
	}
	return s.GetEntorno(ctx, id)
}

func (s *SQLStore) DeleteEntorno(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM entornos WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperr.New(apperr.NotFound, "Entorno no encontrado")
	}
	return nil
}

// EntornoOwner returns the owning user id of an environment.
func (s *SQLStore) EntornoOwner(ctx context.Context, id string) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT usuario_id FROM entornos WHERE id = ?`), id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.New(apperr.NotFound, "Entorno no encontrado")
	}
	return owner, err
}

// Push subscription methods

const subscriptionColumns = `id, usuario_id, endpoint, p256dh, auth, user_agent, created_at, last_used`

func scanSubscription(row rowScanner) (models.PushSubscription, error) {
	var sub models.PushSubscription
	err := row.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dh, &sub.Auth,
		&sub.UserAgent, &sub.CreatedAt, &sub.LastUsed)
	return sub, err
}

func (s *SQLStore) UpsertSubscription(ctx context.Context, sub models.PushSubscription) (models.PushSubscription, error) {
	now := s.timestamp()
	stored, err := scanSubscription(s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO push_subscriptions (`+subscriptionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (endpoint) DO UPDATE SET
		     usuario_id = excluded.usuario_id,
		     p256dh = excluded.p256dh,
		     auth = excluded.auth,
		     user_agent = excluded.user_agent,
		     last_used = excluded.last_used
		 RETURNING `+subscriptionColumns),
		uuid.NewString(), sub.UserID, sub.Endpoint, sub.P256dh, sub.Auth, sub.UserAgent, now, now,
	))
	if err != nil {
		return models.PushSubscription{}, err
	}
	return stored, nil
}

func (s *SQLStore) GetSubscription(ctx context.Context, endpoint string) (models.PushSubscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE endpoint = ?`), endpoint))
	if errors.Is(err, sql.ErrNoRows) {
		return models.PushSubscription{}, apperr.New(apperr.NotFound, "Suscripción no encontrada")
	}
	return sub, err
}

func (s *SQLStore) listSubscriptions(ctx context.Context, query string, args ...any) ([]models.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := []models.PushSubscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *SQLStore) ListSubscriptionsByUser(ctx context.Context, userID string) ([]models.PushSubscription, error) {
	return s.listSubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE usuario_id = ? ORDER BY created_at`, userID)
}

func (s *SQLStore) ListSubscriptions(ctx context.Context) ([]models.PushSubscription, error) {
	return s.listSubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM push_subscriptions ORDER BY created_at`)
}

func (s *SQLStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM push_subscriptions WHERE endpoint = ?`), endpoint)
	return err
}

func (s *SQLStore) DeleteUserSubscription(ctx context.Context, userID, endpoint string) error {
	result, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM push_subscriptions WHERE endpoint = ? AND usuario_id = ?`), endpoint, userID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperr.New(apperr.NotFound, "Suscripción no encontrada")
	}
	return nil
}

func (s *SQLStore) TouchSubscription(ctx context.Context, endpoint string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE push_subscriptions SET last_used = ? WHERE endpoint = ?`), at.UTC(), endpoint)
	return err
}
