// Package config handles loading and validating km200-bridge configuration.
//
// This package manages:
//   - Loading configuration from a YAML file via viper
//   - Overriding any key with KM200_ prefixed environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The device passcode is the AES key for the gateway; prefer KM200_DEVICE_PASSCODE
//   - MQTT and InfluxDB credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.Host)
package config
