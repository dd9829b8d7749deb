// Package sensorsim simulates a fleet of IoT sensors.
//
// The module has two halves. The inventory client registers, lists and
// deletes sensor records in a REST inventory service. The simulation runtime
// starts one periodic publish task per registered sensor and streams
// synthetic readings to a message broker until an operator stop request.
//
// # Packages
//
//   - sensor: categories, value profiles, readings and the per-sensor task
//   - simulation: the supervisor that launches, stops and joins the fleet
//   - inventory: the HTTP client for the inventory service, plus the default fleet
//   - broker: publish-per-call connectors for AMQP 0-9-1, NATS JetStream and MQTT
//   - natsclient: the JetStream client used by the NATS connector
//   - config: layered file, .env and environment configuration
//   - metric: Prometheus registry, simulator metrics and the /metrics server
//   - health: component health tracking served on /health
//   - errors: classified errors and the typed inventory and publish errors
//   - pkg/latch, pkg/retry, pkg/worker, pkg/tlsutil: supporting primitives
//
// # Stop Discipline
//
// All tasks of one run share a single latch. Setting it is the only way a
// fleet stops; every sleep and every publish observes it, and the supervisor
// returns only after every task has exited.
//
// The sensorsim command in cmd/sensorsim wires these together.
package sensorsim
