// Package config handles loading and validating thermostatd configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with THERMOSTAT_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT, InfluxDB and Redis credentials) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Database.Path)
package config
