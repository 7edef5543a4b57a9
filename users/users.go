// Package users holds the user records, the shared user manager contract
// and the password encryption strategies.
package users

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// AnonymousLogin is the login of the anonymous user.
const AnonymousLogin = "anonymous"

// User is a stored account, Password holds the encrypted secret.
type User struct {
	Login           string         `toml:"-"`
	Password        string         `toml:"password"`
	HomeDir         string         `toml:"home"`
	Enabled         bool           `toml:"enabled"`
	WritePermission bool           `toml:"write"`
	MaxIdleTime     int            `toml:"idle_time"`     // seconds, 0 is the server default
	MaxUploadRate   int            `toml:"upload_rate"`   // bytes per second, 0 is unlimited
	MaxDownloadRate int            `toml:"download_rate"` // bytes per second, 0 is unlimited
	MaxLoginNumber  int            `toml:"max_login_number"`
	MaxLoginPerIP   int            `toml:"max_login_per_ip"`
	IPs             []netip.Prefix `toml:"ips"`
}

// IdleTimeout returns MaxIdleTime as a duration.
func (u *User) IdleTimeout() time.Duration {
	return time.Duration(u.MaxIdleTime) * time.Second
}

// Clone returns a deep copy so stored records are never shared with callers.
func (u *User) Clone() *User {
	c := *u
	c.IPs = append([]netip.Prefix(nil), u.IPs...)
	return &c
}

// FindIP finds an IP in the prefixes in the user
func (u *User) FindIP(ip string) bool {
	addr, err := parseAddr(ip)
	if err != nil {
		return false
	}
	for _, v := range u.IPs {
		if v.Contains(addr) {
			return true
		}
	}
	return false
}

// AllowsIP reports whether the user may log in from ip, no prefixes means any address.
func (u *User) AllowsIP(ip string) bool {
	if len(u.IPs) == 0 {
		return true
	}
	return u.FindIP(ip)
}

// AddIP adds an IP prefix to the user
// if the ip is without the prefix, it will add /32 (/128 for IPv6)
func (u *User) AddIP(ip string) error {
	prefix, err := parsePrefix(ip)
	if err != nil {
		return err
	}
	for _, p := range u.IPs {
		if p == prefix {
			return nil
		}
	}
	u.IPs = append(u.IPs, prefix)
	return nil
}

// RemoveIP removes an IP prefix from the user
func (u *User) RemoveIP(ip string) {
	prefix, err := parsePrefix(ip)
	if err != nil {
		return
	}
	result := u.IPs[:0]
	for _, p := range u.IPs {
		if p != prefix {
			result = append(result, p)
		}
	}
	u.IPs = result
}

func parsePrefix(ip string) (netip.Prefix, error) {
	ip = strings.TrimSpace(ip)
	if !strings.Contains(ip, "/") {
		addr, err := netip.ParseAddr(ip)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("error parsing IP: %w", err)
		}
		return netip.PrefixFrom(addr, addr.BitLen()), nil
	}
	prefix, err := netip.ParsePrefix(ip)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("error parsing IP: %w", err)
	}
	return prefix.Masked(), nil
}

// parseAddr accepts "ip" and "ip:port"
func parseAddr(s string) (netip.Addr, error) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().Unmap(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, err
	}
	return addr.Unmap(), nil
}
