package storage

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	migrate "github.com/rubenv/sql-migrate"
	log "github.com/sirupsen/logrus"
)

// migrations mantém o schema junto ao código; o binário não depende de ./migrations em disco.
var migrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "0001_blobs",
			Up: []string{`CREATE TABLE IF NOT EXISTS blobs (
				key        TEXT PRIMARY KEY,
				data       BYTEA NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`},
			Down: []string{`DROP TABLE IF EXISTS blobs`},
		},
	},
}

// DB representa a conexão com o banco de dados PostgreSQL.
type DB struct {
	*sqlx.DB
}

// NewDB conecta-se ao PostgreSQL e executa as migrações.
func NewDB(dataSourceName string) (*DB, error) {
	db, err := sqlx.Connect("postgres", dataSourceName)
	if err != nil {
		return nil, errors.Wrap(err, "falha ao conectar ao banco de dados")
	}

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "falha ao pingar o banco de dados")
	}
	log.Println("Conexão com PostgreSQL estabelecida com sucesso.")

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "falha ao executar migrações")
	}

	return &DB{db}, nil
}

// runMigrations executa as migrações usando sql-migrate.
func runMigrations(db *sql.DB) error {
	n, err := migrate.Exec(db, "postgres", migrations, migrate.Up)
	if err != nil {
		return errors.Wrap(err, "erro ao aplicar migrações")
	}
	if n > 0 {
		log.Printf("Aplicadas %d migrações ao banco de dados.", n)
	} else {
		log.Println("Nenhuma migração nova para aplicar.")
	}
	return nil
}

type blobRow struct {
	Key  string `db:"key"`
	Data []byte `db:"data"`
}

func (d *DB) LoadBlob(ctx context.Context, key string) ([]byte, error) {
	var row blobRow
	err := d.GetContext(ctx, &row, `SELECT key, data FROM blobs WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "falha ao buscar blob %s", key)
	}
	return row.Data, nil
}

func (d *DB) SaveBlob(ctx context.Context, key string, data []byte) error {
	query := `INSERT INTO blobs (key, data, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`
	if _, err := d.ExecContext(ctx, query, key, data); err != nil {
		return errors.Wrapf(err, "falha ao salvar blob %s", key)
	}
	return nil
}
