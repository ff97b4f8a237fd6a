// Package paymentservice confirms payment requests delivered by Amazon MQ
// (RabbitMQ). A Lambda function receives a batch from the request queue,
// mints a confirmation id for every payment request and publishes
// {"paymentRequestId", "paymentConfirmationId"} to the durable response queue.
//
// Service keeps a single broker connection per process. The first non-empty
// invocation fetches the broker credentials from AWS Secrets Manager, dials
// the broker, opens a channel and declares the response queue; every later
// invocation reuses that handle. Concurrent first invocations share one
// handshake, and a failed handshake leaves nothing cached so the next
// invocation starts over.
//
// Each message in a batch is handled on its own: a message that cannot be
// decoded or published is logged and counted, and the rest of the batch still
// goes out. Only a malformed trigger or an unreachable broker turns an
// invocation into a 500.
//
// Service.Shutdown is the SIGTERM hook. It waits for in-flight publishes,
// closes the channel and then the connection, and gives up after
// Config.ShutdownTimeout.
//
// A minimal setup reads Config from the environment, builds a Service and hands
// Service.Handle to lambda.Start; cmd/payment-confirmer does exactly that.
// ServiceDependencies swaps the credential provider or broker connector, which
// is how examples/local-broker talks to a RabbitMQ container with static
// credentials.
package paymentservice
