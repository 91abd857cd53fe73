package main

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"
)

// ConfigSecret mirrors cmd/pkd-management's: a string config field
// readable directly or via "env:NAME" indirection for DB_PASSWORD /
// LDAP_BIND_PASSWORD-shaped secrets.
type ConfigSecret string

const secretPrefix = "env:"

var errSecretMustBeString = errors.New("cannot JSON unmarshal something other than a string into a ConfigSecret")

func (d *ConfigSecret) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return errSecretMustBeString
		}
		return err
	}
	if !strings.HasPrefix(s, secretPrefix) {
		*d = ConfigSecret(s)
		return nil
	}
	*d = ConfigSecret(os.Getenv(strings.TrimPrefix(s, secretPrefix)))
	return nil
}

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password ConfigSecret
}

func (c DBConfig) dsn() string {
	return "host=" + c.Host + " port=" + itoa(c.Port) + " dbname=" + c.Name +
		" user=" + c.User + " password=" + string(c.Password) + " sslmode=disable"
}

type LDAPConfig struct {
	ReadHosts          []string
	WriteHost          string
	WritePort          int
	BindDN             string
	BindPassword       ConfigSecret
	BaseDN             string
	DataContainer      string
	NCDataContainer    string
	PoolMin            int
	PoolMax            int
	PoolTimeoutSecs    int
	NetworkTimeoutSecs int
}

func (c LDAPConfig) poolTimeout() time.Duration {
	if c.PoolTimeoutSecs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.PoolTimeoutSecs) * time.Second
}

func (c LDAPConfig) networkTimeout() time.Duration {
	if c.NetworkTimeoutSecs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.NetworkTimeoutSecs) * time.Second
}

// Config is pkd-relay's top-level configuration: the reconciler and
// revalidator control loops need only the DB and LDAP handles plus
// their own tick intervals, no upload-specific options.
type Config struct {
	DB   DBConfig
	LDAP LDAPConfig

	// ReconcileCronSpec is a robfig/cron/v3 expression; defaults to
	// every 15 minutes if empty.
	ReconcileCronSpec    string
	ReconcileConcurrency int

	// RevalidateCronSpec likewise defaults to hourly.
	RevalidateCronSpec string

	SyslogNetwork string
	SyslogAddr    string
}

func (c Config) Validate() error {
	if c.DB.Password == "" {
		return errors.New("pkd-relay: DB_PASSWORD is required")
	}
	if c.LDAP.BindPassword == "" {
		return errors.New("pkd-relay: LDAP_BIND_PASSWORD is required")
	}
	if c.LDAP.BaseDN == "" {
		return errors.New("pkd-relay: LDAP_BASE_DN is required")
	}
	return nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func loadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	var c Config
	if err := json.NewDecoder(f).Decode(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}
