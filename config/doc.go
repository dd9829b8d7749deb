// Package config loads the simulator configuration.
//
// A Loader starts from built-in defaults and applies, in order:
//
//  1. configuration file layers (JSON, or YAML for .yaml/.yml), later layers
//     overriding earlier ones key by key
//  2. .env files, which only fill variables not already set in the process
//  3. SENSORSIM_* environment variables
//
// and finally validates the result.
//
// Duration fields accept Go duration strings such as "5s" or "250ms" in both
// file formats and in the environment.
//
// Example config file:
//
//	inventory:
//	  base_url: http://localhost:8000/api/sensors
//	  timeout: 10s
//	  requests_per_second: 20
//	broker:
//	  kind: nats
//	  url: nats://localhost:4222
//	  queue: data_queue
//	  tls:
//	    enabled: true
//	    ca_files: [/etc/ssl/broker-ca.pem]
//	simulation:
//	  profiles:
//	    Temperature: {min: -10, max: 35, rate: 6}
//	metrics:
//	  port: 9090
package config
