package pgwire

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgpassfile"
	"github.com/jackc/pgservicefile"
)

// DialFunc opens the network connection a Transport will wrap. It
// takes a context so a connect-time timeout set in Config can abort an
// in-progress DNS lookup or TCP handshake.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// LookupFunc resolves host to a list of addresses to try, in order.
// The default uses net.Resolver.LookupHost.
type LookupFunc func(ctx context.Context, host string) ([]string, error)

// Config holds everything needed to open one connection. Build one
// with ParseConfig rather than constructing it directly; the zero
// value is not usable.
type Config struct {
	Host          string
	Port          uint16
	Database      string
	User          string
	Password      string
	TLSConfig     *tls.Config
	DialFunc      DialFunc
	LookupFunc    LookupFunc
	RuntimeParams map[string]string

	// TargetSessionAttrs restricts which fallback host Connect accepts:
	// "any" (default), "read-write"/"primary", "read-only"/"secondary",
	// or the soft-fallback "preferPrimary"/"preferSecondary" (use a
	// matching host if any candidate has one, otherwise the first host
	// that answered at all). Mirrors libpq's target_session_attrs and
	// pgjdbc's targetServerType, checked via SHOW transaction_read_only.
	TargetSessionAttrs string

	ConnectTimeout time.Duration

	// SocketTimeout bounds a single self-contained round trip (such as
	// Prepare) that has no caller-supplied context deadline. Operations
	// that hand a long-lived reader back to the caller (Exec,
	// QueryParams, portal fetch) rely on the caller's context for this
	// instead, since a deadline fixed at call time can't span however
	// long the caller takes to drain the rows it gets back.
	SocketTimeout time.Duration

	// CancelSignalTimeout bounds CancelRequest's secondary connection
	// when the caller's context carries no deadline of its own.
	CancelSignalTimeout time.Duration

	// LoginTimeout bounds startup (the StartupMessage through the
	// first ReadyForQuery) when the caller's context carries no
	// deadline of its own.
	LoginTimeout time.Duration

	// StatementCacheCapacity is the number of server-side prepared
	// statements Conn will keep open at once. Zero disables the cache:
	// every extended-query Prepare reparses on every call.
	StatementCacheCapacity int

	// PrepareThreshold is the number of times QueryParams must run the
	// same SQL text before Conn promotes it from a one-shot unnamed
	// statement to a named, cached, server-side prepared statement.
	// Zero disables server-side preparation entirely (every execution
	// runs one-shot); a negative value forces the one-shot path to
	// additionally request binary results. The default is 5.
	PrepareThreshold int

	// BinaryTransfer gates the Oid-driven binary-format policy
	// (useBinaryForReceive/useBinaryForSend) wholesale; false forces
	// every prepared-statement bind/result to stay text-encoded.
	BinaryTransfer bool

	// BinaryTransferEnable and BinaryTransferDisable add to, or remove
	// from, the built-in default set of Oids Conn requests in binary
	// format, mirroring pgjdbc's connection properties of the same
	// name.
	BinaryTransferEnable  []uint32
	BinaryTransferDisable []uint32

	// AutocommitOff makes Conn.ExecStatement prepend an implicit BEGIN
	// before the first statement after every Idle ReadyForQuery,
	// instead of leaving each statement in its own server-side
	// transaction. Named so the zero value (autocommit on) matches a
	// plain Conn built without ParseConfig.
	AutocommitOff bool

	// ReadOnly and ReadOnlyMode together select how Conn.SetReadOnly
	// and the implicit BEGIN Conn.ExecStatement issues apply a
	// read-only session. See ReadOnlyMode's doc comment.
	ReadOnly     bool
	ReadOnlyMode ReadOnlyMode

	// Autosave controls whether Conn.ExecStatement wraps each
	// statement run inside an already-open transaction in a SAVEPOINT,
	// so a per-statement error doesn't abort the whole transaction.
	Autosave AutosaveMode

	// ReWriteBatchedInserts coalesces a run of identical single-row
	// INSERT ... VALUES (...) batch items into one multi-row INSERT,
	// trading one round trip's worth of protocol overhead per item for
	// a single larger statement.
	ReWriteBatchedInserts bool

	// DefaultRowFetchSize is the portal fetch size DeclarePortal uses
	// when the caller doesn't override it, mirroring
	// defaultRowFetchSize. Zero means "fetch to completion".
	DefaultRowFetchSize uint32

	Fallbacks []*FallbackConfig

	// ValidateConnect is called immediately after a fallback candidate
	// finishes startup. Returning an error rejects the candidate and
	// Connect moves on to the next fallback.
	ValidateConnect func(ctx context.Context, conn *Conn) error

	// GSSEncMode mirrors gssencmode: "disable", "allow", "prefer", or
	// "require". Ignored when GSSAPI is nil, except "require", which
	// fails Connect outright since there is nothing to negotiate with.
	GSSEncMode string

	// GSSAPI is the injected platform GSSAPI/SSPI implementation used
	// both for a GSSEncRequest transport upgrade and for
	// AuthenticationGSS/AuthenticationSSPI. Nil means this Conn can't
	// negotiate either; Connect then treats GSSEncMode "require" as an
	// error and handleAuth rejects a GSS/SSPI challenge from the server.
	GSSAPI GSSProvider
}

// FallbackConfig is one host/port/TLS combination Connect will try, in
// order, until one succeeds and passes ValidateConnect.
type FallbackConfig struct {
	Host      string
	Port      uint16
	TLSConfig *tls.Config
}

// NetworkAddress converts a PostgreSQL host and port into the network
// and address net.Dial expects, switching to a Unix domain socket path
// when host looks like a directory.
func NetworkAddress(host string, port uint16) (network, address string) {
	if strings.HasPrefix(host, "/") {
		return "unix", filepath.Join(host, ".s.PGSQL.") + strconv.FormatInt(int64(port), 10)
	}
	return "tcp", net.JoinHostPort(host, strconv.Itoa(int(port)))
}

// ParseConfig builds a Config from a URL or DSN connection string,
// following libpq's precedence: PG* environment variables, then a
// service file section if "service" is given, then explicit keywords
// in connString, each layer overriding the previous. connString may be
// empty to build a Config purely from the environment.
//
// Recognized keywords/environment variables: host/PGHOST, port/PGPORT,
// dbname (database)/PGDATABASE, user/PGUSER, password/PGPASSWORD,
// passfile/PGPASSFILE, sslmode/PGSSLMODE, sslcert/PGSSLCERT,
// sslkey/PGSSLKEY, sslrootcert/PGSSLROOTCERT, application_name/PGAPPNAME,
// connect_timeout/PGCONNECT_TIMEOUT, target_session_attrs, service/PGSERVICE,
// servicefile/PGSERVICEFILE, gssencmode/PGGSSENCMODE.
func ParseConfig(connString string) (*Config, error) {
	settings := defaultSettings()
	addEnvSettings(settings)

	explicit := make(map[string]string)
	if connString != "" {
		var err error
		if strings.HasPrefix(connString, "postgres://") || strings.HasPrefix(connString, "postgresql://") {
			err = addURLSettings(explicit, connString)
		} else {
			err = addDSNSettings(explicit, connString)
		}
		if err != nil {
			return nil, &parseConfigError{connString: connString, msg: "failed to parse as URL or DSN", err: err}
		}
	}

	service := settings["service"]
	if s, present := explicit["service"]; present {
		service = s
	}
	if service != "" {
		serviceSettings := map[string]string{"servicefile": settings["servicefile"]}
		if sf, present := explicit["servicefile"]; present {
			serviceSettings["servicefile"] = sf
		}
		if err := addServiceSettings(serviceSettings, service); err != nil {
			return nil, &parseConfigError{connString: connString, msg: "failed to read service file", err: err}
		}
		for k, v := range serviceSettings {
			settings[k] = v
		}
	}
	for k, v := range explicit {
		settings[k] = v
	}

	config := &Config{
		Database:               settings["database"],
		User:                   settings["user"],
		Password:               settings["password"],
		TargetSessionAttrs:     settings["target_session_attrs"],
		RuntimeParams:          make(map[string]string),
		LookupFunc:             net.DefaultResolver.LookupHost,
		StatementCacheCapacity: 512,
		PrepareThreshold:       5,
		BinaryTransfer:         true,
		AutocommitOff:          settings["autocommit"] == "false",
		ReadOnly:               settings["readonly"] == "true" || settings["readOnly"] == "true",
		ReadOnlyMode:           ReadOnlyMode(settings["readOnlyMode"]),
		Autosave:               AutosaveMode(settings["autosave"]),
		ReWriteBatchedInserts:  settings["reWriteBatchedInserts"] == "true",
		GSSEncMode:             settings["gssencmode"],
	}
	if config.GSSEncMode == "" {
		config.GSSEncMode = "disable"
	}

	if connectTimeout, present := settings["connect_timeout"]; present {
		seconds, err := strconv.ParseInt(connectTimeout, 10, 64)
		if err != nil || seconds < 0 {
			return nil, &parseConfigError{connString: connString, msg: "invalid connect_timeout"}
		}
		config.ConnectTimeout = time.Duration(seconds) * time.Second
	}
	config.DialFunc = makeDialFunc(config.ConnectTimeout)

	for settingName, field := range map[string]*time.Duration{
		"socketTimeout":       &config.SocketTimeout,
		"cancelSignalTimeout": &config.CancelSignalTimeout,
		"loginTimeout":        &config.LoginTimeout,
	} {
		raw, present := settings[settingName]
		if !present {
			continue
		}
		seconds, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || seconds < 0 {
			return nil, &parseConfigError{connString: connString, msg: "invalid " + settingName}
		}
		*field = time.Duration(seconds) * time.Second
	}

	if fetchSize, present := settings["defaultRowFetchSize"]; present {
		n, err := strconv.ParseUint(fetchSize, 10, 32)
		if err != nil {
			return nil, &parseConfigError{connString: connString, msg: "invalid defaultRowFetchSize"}
		}
		config.DefaultRowFetchSize = uint32(n)
	}

	if threshold, present := settings["prepareThreshold"]; present {
		n, err := strconv.Atoi(threshold)
		if err != nil {
			return nil, &parseConfigError{connString: connString, msg: "invalid prepareThreshold"}
		}
		config.PrepareThreshold = n
	}

	if binaryTransfer, present := settings["binaryTransfer"]; present {
		config.BinaryTransfer = binaryTransfer == "true"
	}
	if oids, present := settings["binaryTransferEnable"]; present {
		list, err := parseOIDList(oids)
		if err != nil {
			return nil, &parseConfigError{connString: connString, msg: "invalid binaryTransferEnable", err: err}
		}
		config.BinaryTransferEnable = list
	}
	if oids, present := settings["binaryTransferDisable"]; present {
		list, err := parseOIDList(oids)
		if err != nil {
			return nil, &parseConfigError{connString: connString, msg: "invalid binaryTransferDisable", err: err}
		}
		config.BinaryTransferDisable = list
	}

	notRuntimeParams := map[string]struct{}{
		"host": {}, "port": {}, "database": {}, "user": {}, "password": {},
		"passfile": {}, "connect_timeout": {}, "sslmode": {}, "sslkey": {},
		"sslcert": {}, "sslrootcert": {}, "target_session_attrs": {},
		"service": {}, "servicefile": {},
		"autocommit": {}, "readonly": {}, "readOnly": {}, "readOnlyMode": {},
		"autosave": {}, "reWriteBatchedInserts": {}, "defaultRowFetchSize": {},
		"gssencmode": {}, "prepareThreshold": {},
		"binaryTransfer": {}, "binaryTransferEnable": {}, "binaryTransferDisable": {},
		"socketTimeout": {}, "cancelSignalTimeout": {}, "loginTimeout": {},
	}
	for k, v := range settings {
		if _, present := notRuntimeParams[k]; present {
			continue
		}
		config.RuntimeParams[k] = v
	}

	fallbacks, err := buildFallbacks(settings)
	if err != nil {
		return nil, &parseConfigError{connString: connString, msg: "failed to build host list", err: err}
	}

	config.Host = fallbacks[0].Host
	config.Port = fallbacks[0].Port
	config.TLSConfig = fallbacks[0].TLSConfig
	config.Fallbacks = fallbacks[1:]

	if config.Password == "" {
		if passfile, err := pgpassfile.ReadPassfile(settings["passfile"]); err == nil {
			host := config.Host
			if network, _ := NetworkAddress(config.Host, config.Port); network == "unix" {
				host = "localhost"
			}
			config.Password = passfile.FindPassword(host, strconv.Itoa(int(config.Port)), config.Database, config.User)
		}
	}

	return config, nil
}

func buildFallbacks(settings map[string]string) ([]*FallbackConfig, error) {
	var fallbacks []*FallbackConfig

	hosts := strings.Split(settings["host"], ",")
	ports := strings.Split(settings["port"], ",")

	for i, host := range hosts {
		portStr := ports[0]
		if i < len(ports) {
			portStr = ports[i]
		}

		port, err := parsePort(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", portStr, err)
		}

		var tlsConfigs []*tls.Config
		if network, _ := NetworkAddress(host, port); network == "unix" {
			tlsConfigs = []*tls.Config{nil}
		} else {
			tlsConfigs, err = configTLS(settings, host)
			if err != nil {
				return nil, err
			}
		}

		for _, tlsConfig := range tlsConfigs {
			fallbacks = append(fallbacks, &FallbackConfig{Host: host, Port: port, TLSConfig: tlsConfig})
		}
	}

	if len(fallbacks) == 0 {
		return nil, errors.New("no hosts resolved from connection settings")
	}

	return fallbacks, nil
}

func defaultSettings() map[string]string {
	settings := map[string]string{
		"host": defaultHost(),
		"port": "5432",
	}

	if u, err := user.Current(); err == nil {
		settings["user"] = u.Username
		settings["database"] = u.Username
		settings["passfile"] = filepath.Join(u.HomeDir, ".pgpass")
		settings["servicefile"] = filepath.Join(u.HomeDir, ".pg_service.conf")
	}

	return settings
}

// defaultHost mimics libpq's default of the compiled-in unix socket
// directory, probing the common distro locations since Go has no
// equivalent compiled-in constant.
func defaultHost() string {
	for _, path := range []string{"/var/run/postgresql", "/private/tmp", "/tmp"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return "localhost"
}

func addEnvSettings(settings map[string]string) {
	nameMap := map[string]string{
		"PGHOST":               "host",
		"PGPORT":               "port",
		"PGDATABASE":           "database",
		"PGUSER":               "user",
		"PGPASSWORD":           "password",
		"PGPASSFILE":           "passfile",
		"PGAPPNAME":            "application_name",
		"PGCONNECT_TIMEOUT":    "connect_timeout",
		"PGSSLMODE":            "sslmode",
		"PGSSLKEY":             "sslkey",
		"PGSSLCERT":            "sslcert",
		"PGSSLROOTCERT":        "sslrootcert",
		"PGTARGETSESSIONATTRS": "target_session_attrs",
		"PGSERVICE":            "service",
		"PGSERVICEFILE":        "servicefile",
		"PGGSSENCMODE":         "gssencmode",
	}

	for envname, realname := range nameMap {
		if value := os.Getenv(envname); value != "" {
			settings[realname] = value
		}
	}
}

func addServiceSettings(settings map[string]string, serviceName string) error {
	servicefilePath := settings["servicefile"]
	sf, err := pgservicefile.ReadServicefile(servicefilePath)
	if err != nil {
		return err
	}
	service, err := sf.GetService(serviceName)
	if err != nil {
		return err
	}
	for k, v := range service.Settings {
		if _, present := settings[k]; !present {
			settings[k] = v
		}
	}
	return nil
}

func addURLSettings(settings map[string]string, connString string) error {
	u, err := url.Parse(connString)
	if err != nil {
		return err
	}

	if u.User != nil {
		settings["user"] = u.User.Username()
		if password, present := u.User.Password(); present {
			settings["password"] = password
		}
	}

	var hosts, ports []string
	for _, hostport := range strings.Split(u.Host, ",") {
		parts := strings.SplitN(hostport, ":", 2)
		if parts[0] != "" {
			hosts = append(hosts, parts[0])
		}
		if len(parts) == 2 {
			ports = append(ports, parts[1])
		}
	}
	if len(hosts) > 0 {
		settings["host"] = strings.Join(hosts, ",")
	}
	if len(ports) > 0 {
		settings["port"] = strings.Join(ports, ",")
	}

	if database := strings.TrimLeft(u.Path, "/"); database != "" {
		settings["database"] = database
	}

	for k, v := range u.Query() {
		settings[k] = v[0]
	}

	return nil
}

var dsnRegexp = regexp.MustCompile(`([a-zA-Z_]+)=((?:'(?:[^'\\]|\\.)*')|(?:[^ ]+))`)

func addDSNSettings(settings map[string]string, s string) error {
	for _, match := range dsnRegexp.FindAllStringSubmatch(s, -1) {
		value := match[2]
		if len(value) >= 2 && value[0] == '\'' && value[len(value)-1] == '\'' {
			value = strings.ReplaceAll(value[1:len(value)-1], `\'`, `'`)
		}
		key := match[1]
		if key == "dbname" {
			key = "database"
		}
		settings[key] = value
	}
	return nil
}

func configTLS(settings map[string]string, host string) ([]*tls.Config, error) {
	sslmode := settings["sslmode"]
	if sslmode == "" {
		sslmode = "prefer"
	}
	sslrootcert := settings["sslrootcert"]
	sslcert := settings["sslcert"]
	sslkey := settings["sslkey"]

	tlsConfig := &tls.Config{}

	switch sslmode {
	case "disable":
		return []*tls.Config{nil}, nil
	case "allow", "prefer":
		tlsConfig.InsecureSkipVerify = true
	case "require":
		tlsConfig.InsecureSkipVerify = sslrootcert == ""
	case "verify-ca", "verify-full":
		tlsConfig.ServerName = host
	default:
		return nil, fmt.Errorf("sslmode %q is invalid", sslmode)
	}

	if sslrootcert != "" {
		caCert, err := os.ReadFile(sslrootcert)
		if err != nil {
			return nil, fmt.Errorf("unable to read CA file %q: %w", sslrootcert, err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("unable to add CA certificate from %q to pool", sslrootcert)
		}
		tlsConfig.RootCAs = caCertPool
		tlsConfig.ClientCAs = caCertPool
	}

	if (sslcert != "") != (sslkey != "") {
		return nil, errors.New(`both "sslcert" and "sslkey" are required, or neither`)
	}
	if sslcert != "" {
		cert, err := tls.LoadX509KeyPair(sslcert, sslkey)
		if err != nil {
			return nil, fmt.Errorf("unable to load client cert/key: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	switch sslmode {
	case "allow":
		return []*tls.Config{nil, tlsConfig}, nil
	case "prefer":
		return []*tls.Config{tlsConfig, nil}, nil
	default:
		return []*tls.Config{tlsConfig}, nil
	}
}

// parseOIDList parses a comma-separated list of Oids, as used by the
// binaryTransferEnable/binaryTransferDisable connection properties.
func parseOIDList(s string) ([]uint32, error) {
	var oids []uint32
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.ParseUint(field, 10, 32)
		if err != nil {
			return nil, err
		}
		oids = append(oids, uint32(n))
	}
	return oids, nil
}

func parsePort(s string) (uint16, error) {
	port, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	if port < 1 || port > math.MaxUint16 {
		return 0, errors.New("port outside valid range")
	}
	return uint16(port), nil
}

func makeDialFunc(timeout time.Duration) DialFunc {
	dialer := &net.Dialer{KeepAlive: 5 * time.Minute, Timeout: timeout}
	return dialer.DialContext
}
