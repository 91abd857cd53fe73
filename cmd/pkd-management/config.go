package main

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"
)

// ConfigSecret is a string-valued config field that may be given
// directly in the config file or, if it starts with "env:", read from
// the named environment variable, so DB_PASSWORD and LDAP_BIND_PASSWORD
// never have to live in a file on disk.
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

// DBConfig holds the database connection options.
type DBConfig struct {
	Type     string // DB_TYPE: "postgres" is the only adapter wired
	Host     string
	Port     int
	Name     string
	User     string
	Password ConfigSecret // DB_PASSWORD, required-on-start
}

func (c DBConfig) dsn() string {
	return "host=" + c.Host + " port=" + itoa(c.Port) + " dbname=" + c.Name +
		" user=" + c.User + " password=" + string(c.Password) + " sslmode=disable"
}

// LDAPConfig holds the LDAP_* connection and pool options.
type LDAPConfig struct {
	ReadHosts          []string // LDAP_READ_HOSTS
	WriteHost          string
	WritePort          int
	BindDN             string
	BindPassword       ConfigSecret // LDAP_BIND_PASSWORD, required-on-start
	BaseDN             string
	DataContainer      string
	NCDataContainer    string
	PoolMin            int
	PoolMax            int
	PoolTimeoutSecs    int
	NetworkTimeoutSecs int
}

// Config is the top-level JSON configuration for pkd-management.
type Config struct {
	DB   DBConfig
	LDAP LDAPConfig

	TrustAnchorPath string // TRUST_ANCHOR_PATH
	StageDir        string
	MaxBodySizeMB   int
	Workers         int
	ASN1MaxLines    int
	SyslogNetwork   string
	SyslogAddr      string
}

// Validate enforces the required-on-start options: DB_PASSWORD and
// LDAP_BIND_PASSWORD must be set, or the process fails before any
// service loop starts.
func (c Config) Validate() error {
	if c.DB.Password == "" {
		return errors.New("pkd-management: DB_PASSWORD is required")
	}
	if c.LDAP.BindPassword == "" {
		return errors.New("pkd-management: LDAP_BIND_PASSWORD is required")
	}
	if c.LDAP.BaseDN == "" {
		return errors.New("pkd-management: LDAP_BASE_DN is required")
	}
	return nil
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
