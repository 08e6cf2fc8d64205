// Package config loads and validates the control plane configuration from
// environment variables and an optional YAML file. All settings have
// sensible defaults so the binary works out of the box for local
// development without any config file.
//
// Layering is defaults, then an optional YAML file, then environment
// variables (github.com/go-playground/validator/v10 validates the
// result; gopkg.in/yaml.v3 decodes the file).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/gatewayd/gatewayd/internal/gatewayerr"
)

// Consul holds every setting that governs registration and discovery
// against the service registry. Field names mirror spec.md §6's
// Consul.* keys so the YAML layer and the env layer address the same
// settings by the same name.
type Consul struct {
	Address                                string            `yaml:"address" validate:"required,url"`
	ServiceName                             string            `yaml:"serviceName" validate:"required"`
	ServiceAddress                          string            `yaml:"serviceAddress"`
	ServicePort                             int               `yaml:"servicePort" validate:"omitempty,min=1,max=65535"`
	PreferredNetworks                       []string          `yaml:"preferredNetworks"`
	PathPrefix                              string            `yaml:"pathPrefix"`
	Weight                                  int               `yaml:"weight" validate:"min=0"`
	// HttpScheme is the scheme this process registers itself under
	// (address, health-check URL). Default http — the registration-side
	// default. The discovery side has its own independent default
	// (https), applied in the discovery package.
	HttpScheme                              string            `yaml:"httpScheme" validate:"oneof=http https"`
	Protocol                                string            `yaml:"protocol" validate:"oneof=http grpc websocket tcp udp"`
	HealthCheckPath                         string            `yaml:"healthCheckPath"`
	HealthCheckIntervalSeconds              int               `yaml:"healthCheckIntervalSeconds" validate:"min=1"`
	HealthCheckTimeoutSeconds               int               `yaml:"healthCheckTimeoutSeconds" validate:"min=1"`
	DeregisterCriticalServiceAfterSeconds   int               `yaml:"deregisterCriticalServiceAfterSeconds" validate:"min=1"`
	Tags                                    []string          `yaml:"tags"`
	Meta                                    map[string]string `yaml:"meta"`
	RefreshIntervalSeconds                  int               `yaml:"refreshIntervalSeconds" validate:"min=1"`
	ServiceNames                            []string          `yaml:"serviceNames"`
	ServiceRouteMappings                    map[string]string `yaml:"serviceRouteMappings"`
	TLSSkipVerify                           bool              `yaml:"tlsSkipVerify"`
}

// RefreshInterval returns Consul.RefreshIntervalSeconds as a time.Duration.
func (c Consul) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

// HealthCheckInterval returns the registry health-check interval as a
// duration string, the form hashicorp/consul/api's AgentServiceCheck wants.
func (c Consul) HealthCheckInterval() string {
	return fmt.Sprintf("%ds", c.HealthCheckIntervalSeconds)
}

// HealthCheckTimeout returns the registry health-check timeout as a
// duration string.
func (c Consul) HealthCheckTimeout() string {
	return fmt.Sprintf("%ds", c.HealthCheckTimeoutSeconds)
}

// DeregisterCriticalServiceAfter returns the critical-deregistration grace
// period as a duration string.
func (c Consul) DeregisterCriticalServiceAfter() string {
	return fmt.Sprintf("%ds", c.DeregisterCriticalServiceAfterSeconds)
}

// Config holds all runtime configuration for the control plane. Values are
// loaded once at startup via Load() and then treated as immutable.
type Config struct {
	Consul Consul `yaml:"consul"`

	// XDSAddr is the gRPC listen address for the xDS server. Envoy connects
	// here to receive dynamic configuration.
	XDSAddr string `yaml:"xdsAddr" validate:"required"`

	// APIAddr is the HTTP listen address for the management API.
	APIAddr string `yaml:"apiAddr" validate:"required"`

	// NodeIDs lists the Envoy xDS node IDs the adapter pushes snapshots to.
	NodeIDs []string `yaml:"nodeIds"`

	// DataPlanePort is the port the generated Envoy listener binds, i.e.
	// the port the data plane actually accepts client traffic on.
	DataPlanePort int `yaml:"dataPlanePort" validate:"min=1,max=65535"`
}

// defaults returns a Config populated with every spec-mandated default,
// before any YAML file or environment variable is applied.
func defaults() *Config {
	return &Config{
		Consul: Consul{
			Address:                              "http://localhost:8500",
			ServiceName:                          processName(),
			Weight:                               1,
			HttpScheme:                           "http",
			Protocol:                             "http",
			HealthCheckPath:                      "/health",
			HealthCheckIntervalSeconds:           10,
			HealthCheckTimeoutSeconds:            5,
			DeregisterCriticalServiceAfterSeconds: 30,
			RefreshIntervalSeconds:               10,
			TLSSkipVerify:                        true,
		},
		XDSAddr:       ":9090",
		APIAddr:       ":8080",
		DataPlanePort: 10000,
	}
}

func processName() string {
	if len(os.Args) == 0 {
		return "gatewayd"
	}
	parts := strings.Split(os.Args[0], "/")
	return parts[len(parts)-1]
}

// Load builds a Config from defaults, an optional YAML file named by
// GATEWAYD_CONFIG_FILE, and environment variables — in that precedence
// order, each layer overriding the previous one field by field. The
// result is validated; every violated field is reported in a single
// *gatewayerr.ConfigErrors rather than failing on the first.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("GATEWAYD_CONFIG_FILE"); path != "" {
		if err := loadYAMLFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		errs := &gatewayerr.ConfigErrors{}
		errs.Add("GATEWAYD_CONFIG_FILE", err.Error())
		return errs
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		errs := &gatewayerr.ConfigErrors{}
		errs.Add("GATEWAYD_CONFIG_FILE", "parsing YAML: "+err.Error())
		return errs
	}
	return nil
}

// applyEnv overrides cfg field by field from environment variables. Only
// variables that are actually set are applied, so "env wins" precedence
// never clobbers a YAML value with an empty default.
func applyEnv(cfg *Config) {
	setString(&cfg.Consul.Address, "CONSUL_ADDRESS")
	setString(&cfg.Consul.ServiceName, "CONSUL_SERVICE_NAME")
	setString(&cfg.Consul.ServiceAddress, "CONSUL_SERVICE_ADDRESS")
	setInt(&cfg.Consul.ServicePort, "CONSUL_SERVICE_PORT")
	setStringSlice(&cfg.Consul.PreferredNetworks, "CONSUL_PREFERRED_NETWORKS")
	setString(&cfg.Consul.PathPrefix, "CONSUL_PATH_PREFIX")
	setInt(&cfg.Consul.Weight, "CONSUL_WEIGHT")
	setString(&cfg.Consul.HttpScheme, "CONSUL_HTTP_SCHEME")
	setString(&cfg.Consul.Protocol, "CONSUL_PROTOCOL")
	setString(&cfg.Consul.HealthCheckPath, "CONSUL_HEALTH_CHECK_PATH")
	setInt(&cfg.Consul.HealthCheckIntervalSeconds, "CONSUL_HEALTH_CHECK_INTERVAL_SECONDS")
	setInt(&cfg.Consul.HealthCheckTimeoutSeconds, "CONSUL_HEALTH_CHECK_TIMEOUT_SECONDS")
	setInt(&cfg.Consul.DeregisterCriticalServiceAfterSeconds, "CONSUL_DEREGISTER_CRITICAL_SERVICE_AFTER_SECONDS")
	setStringSlice(&cfg.Consul.Tags, "CONSUL_TAGS")
	setStringMap(&cfg.Consul.Meta, "CONSUL_META")
	setInt(&cfg.Consul.RefreshIntervalSeconds, "CONSUL_REFRESH_INTERVAL_SECONDS")
	setStringSlice(&cfg.Consul.ServiceNames, "CONSUL_SERVICE_NAMES")
	setStringMap(&cfg.Consul.ServiceRouteMappings, "CONSUL_SERVICE_ROUTE_MAPPINGS")
	setBool(&cfg.Consul.TLSSkipVerify, "CONSUL_TLS_SKIP_VERIFY")

	setString(&cfg.XDSAddr, "GATEWAYD_XDS_ADDR")
	setString(&cfg.APIAddr, "GATEWAYD_API_ADDR")
	setStringSlice(&cfg.NodeIDs, "GATEWAYD_NODE_IDS")
	setInt(&cfg.DataPlanePort, "GATEWAYD_DATA_PLANE_PORT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func setBool(dst *bool, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

// setStringMap parses "k1=v1,k2=v2" into dst, overriding it wholesale when
// the variable is set.
func setStringMap(dst *map[string]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	*dst = out
}

var validate = validator.New()

// validateConfig runs struct-tag validation and collects every violation
// into a single *gatewayerr.ConfigErrors, rather than stopping at the first.
func validateConfig(cfg *Config) error {
	errs := &gatewayerr.ConfigErrors{}

	if err := validate.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				errs.Add(fe.Namespace(), fmt.Sprintf("failed validation: %s", fe.Tag()))
			}
		} else {
			errs.Add("config", err.Error())
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
