package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// Environment variable and config file keys for the store connection.
const (
	KeyHost     = "INFLUXDB_HOST"
	KeyPort     = "INFLUXDB_PORT"
	KeyUser     = "INFLUXDB_USER"
	KeyPassword = "INFLUXDB_PASS"
	KeyDatabase = "INFLUXDB_DBSE"
)

// Origin records where a setting was resolved from.
type Origin int

const (
	OriginUnset Origin = iota
	OriginEnv
	OriginFile
)

func (o Origin) String() string {
	switch o {
	case OriginEnv:
		return "env"
	case OriginFile:
		return "file"
	}
	return "unset"
}

// Setting is the outcome of resolving one key.
type Setting struct {
	Key    string
	Value  string
	Origin Origin
}

func (s Setting) IsSet() bool {
	return s.Origin != OriginUnset
}

// Resolver looks settings up in the environment first and then in a config
// file. Empty environment values fall through to the file.
type Resolver struct {
	path   string
	file   map[string]string
	getenv func(string) string
}

// NewResolver reads the config file at path. A missing file behaves like an
// empty one; a file that cannot be parsed is an error.
func NewResolver(path string) (*Resolver, error) {
	r := &Resolver{path: path, file: map[string]string{}, getenv: os.Getenv}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		r.file, err = parseYAML(data)
	default:
		r.file, err = parseJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return r, nil
}

func parseJSON(data []byte) (map[string]string, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return map[string]string{}, nil
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid json")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, errors.New("top level value must be an object")
	}

	values := map[string]string{}
	root.ForEach(func(key, value gjson.Result) bool {
		if value.Type != gjson.Null {
			values[key.String()] = value.String()
		}
		return true
	})
	return values, nil
}

func parseYAML(data []byte) (map[string]string, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	values := map[string]string{}
	for k, v := range raw {
		if v != nil {
			values[k] = fmt.Sprint(v)
		}
	}
	return values, nil
}

// Lookup resolves key from the environment, then the config file.
func (r *Resolver) Lookup(key string) Setting {
	if v := r.getenv(key); v != "" {
		return Setting{Key: key, Value: v, Origin: OriginEnv}
	}
	if v, ok := r.file[key]; ok && v != "" {
		return Setting{Key: key, Value: v, Origin: OriginFile}
	}
	return Setting{Key: key}
}

// MissingError reports a required setting that resolved to nothing.
type MissingError struct {
	Field string
	Key   string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("config: %s is not set (set %s in the environment or config file)", e.Field, e.Key)
}

// InvalidError reports a setting that resolved but could not be used.
type InvalidError struct {
	Field string
	Value string
	Err   error
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("config: invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *InvalidError) Unwrap() error {
	return e.Err
}

// Influx holds the connection settings for the InfluxDB store.
type Influx struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
}

// Addr returns the HTTP endpoint for the server. Hosts given with a scheme
// are used as is.
func (c Influx) Addr() string {
	host := c.Host
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return fmt.Sprintf("%s:%d", strings.TrimRight(host, "/"), c.Port)
}

// LoadInflux resolves and validates the connection settings. Host, port and
// database are required; username and password may be empty when the server
// runs without authentication.
func LoadInflux(r *Resolver) (Influx, error) {
	var cfg Influx

	host := r.Lookup(KeyHost)
	if !host.IsSet() {
		return cfg, &MissingError{Field: "host", Key: KeyHost}
	}
	cfg.Host = host.Value

	port := r.Lookup(KeyPort)
	if !port.IsSet() {
		return cfg, &MissingError{Field: "port", Key: KeyPort}
	}
	p, err := strconv.Atoi(strings.TrimSpace(port.Value))
	if err != nil {
		return cfg, &InvalidError{Field: "port", Value: port.Value, Err: err}
	}
	if p < 1 || p > 65535 {
		return cfg, &InvalidError{Field: "port", Value: port.Value, Err: errors.New("out of range")}
	}
	cfg.Port = p

	db := r.Lookup(KeyDatabase)
	if !db.IsSet() {
		return cfg, &MissingError{Field: "database", Key: KeyDatabase}
	}
	cfg.Database = db.Value

	cfg.Username = r.Lookup(KeyUser).Value
	cfg.Password = r.Lookup(KeyPassword).Value
	return cfg, nil
}
