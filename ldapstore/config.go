package ldapstore

import "time"

// DNLayout selects how a certificate's RDN is built. v2 (the default) is
// keyed on the SHA-256 fingerprint; Legacy keys on subject_dn+serial and
// is kept only for directories that have not migrated; no automatic
// migration between the two layouts exists, so both are supported
// behind this flag.
type DNLayout int

const (
	DNLayoutV2 DNLayout = iota
	DNLayoutLegacy
)

// Config is everything the LDAP Store needs to open connections and
// build DNs.
type Config struct {
	ReadHosts []string // LDAP_READ_HOSTS, round-robin
	WriteHost string   // LDAP_WRITE_HOST
	WritePort int      // LDAP_WRITE_PORT

	BindDN       string // LDAP_BIND_DN
	BindPassword string // LDAP_BIND_PASSWORD

	BaseDN          string // LDAP_BASE_DN
	DataContainer   string // LDAP_DATA_CONTAINER, default "data"
	NCDataContainer string // LDAP_NC_DATA_CONTAINER, default "nc-data"

	PoolMin     int           // LDAP_POOL_MIN
	PoolMax     int           // LDAP_POOL_MAX
	PoolTimeout time.Duration // LDAP_POOL_TIMEOUT

	NetworkTimeout time.Duration // LDAP_NETWORK_TIMEOUT

	DNLayout DNLayout
}

// WithDefaults fills in the conventional container names and pool sizing
// when a caller leaves them zero-valued.
func (c Config) WithDefaults() Config {
	if c.DataContainer == "" {
		c.DataContainer = "data"
	}
	if c.NCDataContainer == "" {
		c.NCDataContainer = "nc-data"
	}
	if c.PoolMax == 0 {
		c.PoolMax = 4
	}
	if c.PoolTimeout == 0 {
		c.PoolTimeout = 5 * time.Second
	}
	if c.NetworkTimeout == 0 {
		c.NetworkTimeout = 10 * time.Second
	}
	return c
}
