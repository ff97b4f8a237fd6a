/*
Package runtime wires the payment confirmation bridge together.

# Invocation

Service.Handle is the Lambda handler for Amazon MQ (RabbitMQ) triggers. Each
call runs one pass of

	RECEIVE -> ACQUIRE_CONNECTION -> DECODE_BATCH -> PROCESS -> REPORT

RECEIVE selects the batch keyed "<request queue>::<routing key>" from the
trigger. ACQUIRE_CONNECTION borrows the process-wide broker handle from the
connection cache, establishing it on first use. DECODE_BATCH and PROCESS hand
the batch to the confirm package, which isolates failures per message. REPORT
returns 200 when the batch was processed and 500 for a malformed trigger or a
broker that could not be reached.

# Shutdown

Service.Shutdown is registered as the SIGTERM hook. It takes the same lock the
cache uses for establishment and publishing, so it waits for in-flight
publishes before closing the channel and then the connection.

# Sub-packages

  - broker/: connection cache, handle and AMQP connector
  - config/: environment configuration with validation
  - confirm/: batch processor and confirmation messages
  - errors/: sentinel errors and tagged error kinds
  - ids/: ULID message ids and UUID confirmation ids
  - jsoncodec/: JSON marshaling utilities
  - logging/: logger interface and adapters
  - metrics/: Prometheus collectors
  - secrets/: broker credentials from AWS Secrets Manager
*/
package runtime
