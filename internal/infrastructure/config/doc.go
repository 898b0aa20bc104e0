// Package config handles loading and validating provisiond configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Secrets (AP passphrase, InfluxDB token) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - netcheck.insecure_skip_verify applies to the reachability check only;
//     no other component reads it
//
// Usage:
//
//	cfg, err := config.Load("/etc/provisiond/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.ID)
package config
