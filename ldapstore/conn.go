package ldapstore

import (
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"
	pkderrors "github.com/iland112/icao-local-pkd/errors"
)

// conn narrows *ldap.Conn down to what the Store needs, so tests can
// swap in a fake rather than dialing a real directory.
type conn interface {
	Bind(username, password string) error
	Add(req *ldap.AddRequest) error
	Del(req *ldap.DelRequest) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

// dial opens a connection to host:port, sets PROTOCOL_VERSION=3 (the
// only protocol version go-ldap speaks, so this is implicit) and
// NETWORK_TIMEOUT via a dialer timeout, and performs a simple bind.
// REFERRALS=OFF is likewise implicit: go-ldap never auto-chases
// referrals unless explicitly configured to.
func dial(host string, port int, bindDN, bindPassword string, networkTimeout time.Duration) (*ldap.Conn, error) {
	addr := net.JoinHostPort(host, itoa(port))
	l, err := ldap.DialURL("ldap://"+addr, ldap.DialWithDialer(&net.Dialer{Timeout: networkTimeout}))
	if err != nil {
		return nil, pkderrors.NewLdapTransientError("ldapstore: dial %s: %v", addr, err)
	}
	if err := l.Bind(bindDN, bindPassword); err != nil {
		l.Close()
		return nil, pkderrors.NewLdapTransientError("ldapstore: bind as %s: %v", bindDN, err)
	}
	return l, nil
}

func itoa(n int) string {
	if n == 0 {
		return "389"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
