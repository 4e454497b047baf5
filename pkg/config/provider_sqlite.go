package config

import (
	"database/sql"
	"fmt"
	"strconv"

	_ "modernc.org/sqlite"
)

// SQLiteProvider stores the configuration as key/value rows in a SQLite
// database. Unknown keys in the table are ignored on load, mirroring the
// JSON backend's behavior.
type SQLiteProvider struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteProvider opens (and if necessary initializes) the database.
func NewSQLiteProvider(dbPath string) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize settings table: %w", err)
	}

	return &SQLiteProvider{db: db, dbPath: dbPath}, nil
}

// Load reads every settings row and applies it over the defaults.
func (p *SQLiteProvider) Load() (*Settings, error) {
	rows, err := p.db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	kv := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan settings row: %w", err)
		}
		kv[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read settings rows: %w", err)
	}

	s := DefaultSettings()
	applyKeyValues(s, kv)
	return s, nil
}

// Save upserts every setting in one transaction.
func (p *SQLiteProvider) Save(s *Settings) error {
	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin settings transaction: %w", err)
	}

	for key, value := range toKeyValues(s) {
		if _, err := tx.Exec(
			`INSERT INTO settings (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, value,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to save setting %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settings: %w", err)
	}
	return nil
}

func (p *SQLiteProvider) IsReadOnly() bool {
	return false
}

func (p *SQLiteProvider) Close() error {
	return p.db.Close()
}

func applyKeyValues(s *Settings, kv map[string]string) {
	getBool := func(key string, dst *bool) {
		if v, ok := kv[key]; ok {
			*dst = v == "true" || v == "1"
		}
	}
	getInt := func(key string, dst *int) {
		if v, ok := kv[key]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	getString := func(key string, dst *string) {
		if v, ok := kv[key]; ok {
			*dst = v
		}
	}

	getString("ssid", &s.SSID)
	getString("password", &s.Password)
	getBool("configMode", &s.ConfigMode)
	getString("logLevel", &s.LogLevel)
	getString("timezone", &s.Timezone)
	getString("mqttHost", &s.MQTT.Host)
	getInt("mqttPort", &s.MQTT.Port)
	getString("mqttUser", &s.MQTT.User)
	getString("mqttPassword", &s.MQTT.Password)
	getBool("mqttEnabled", &s.MQTT.Enabled)
	getBool("mqttTls", &s.MQTT.TLS)
	getString("mqttPrefix", &s.MQTT.Prefix)
	getBool("mqttHAEnabled", &s.MQTT.HAEnabled)
	getString("mqttHAPrefix", &s.MQTT.HAPrefix)
	getBool("httpVerifyTls", &s.HTTPVerifyTLS)
	getString("archiveDsn", &s.ArchiveDSN)
	getString("radioDevice", &s.RadioDevice)
	getInt("radioBaud", &s.RadioBaud)
}

func toKeyValues(s *Settings) map[string]string {
	return map[string]string{
		"ssid":          s.SSID,
		"password":      s.Password,
		"configMode":    strconv.FormatBool(s.ConfigMode),
		"logLevel":      s.LogLevel,
		"timezone":      s.Timezone,
		"mqttHost":      s.MQTT.Host,
		"mqttPort":      strconv.Itoa(s.MQTT.Port),
		"mqttUser":      s.MQTT.User,
		"mqttPassword":  s.MQTT.Password,
		"mqttEnabled":   strconv.FormatBool(s.MQTT.Enabled),
		"mqttTls":       strconv.FormatBool(s.MQTT.TLS),
		"mqttPrefix":    s.MQTT.Prefix,
		"mqttHAEnabled": strconv.FormatBool(s.MQTT.HAEnabled),
		"mqttHAPrefix":  s.MQTT.HAPrefix,
		"httpVerifyTls": strconv.FormatBool(s.HTTPVerifyTLS),
		"archiveDsn":    s.ArchiveDSN,
		"radioDevice":   s.RadioDevice,
		"radioBaud":     strconv.Itoa(s.RadioBaud),
	}
}
