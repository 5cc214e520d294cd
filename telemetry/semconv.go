package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for rivulet-specific telemetry.
// Following OpenTelemetry naming conventions: namespace.attribute_name

const (
	// AttrQueueName labels queue metrics with the logical queue identity.
	AttrQueueName = attribute.Key("queue.name")
	// AttrPolicy records the overflow policy applied to a bounded buffer.
	AttrPolicy = attribute.Key("queue.policy")
	// AttrEventKey annotates bridge metrics with the subscribed event key.
	AttrEventKey = attribute.Key("event.key")
	// AttrOperator identifies which pipeline operator produced the signal.
	AttrOperator = attribute.Key("operator")
	// AttrWorkerState captures a worker lifecycle state (starting, idle, busy, terminating).
	AttrWorkerState = attribute.Key("worker.state")
	// AttrMethod records the RPC method path for call metrics.
	AttrMethod = attribute.Key("rpc.method")
	// AttrOperation differentiates specific component operations (push, pull, dispatch, ...).
	AttrOperation = attribute.Key("operation")
	// AttrResult records the outcome of an operation (success, error class, etc.).
	AttrResult = attribute.Key("result")
	// AttrEnvironment specifies the deployment environment for every metric.
	AttrEnvironment = attribute.Key("environment")
	// AttrReason provides additional free-form context for errors/drops.
	AttrReason = attribute.Key("reason")
)

// QueueAttributes annotates a metric with queue identity and policy.
func QueueAttributes(environment, queueName, policy string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrQueueName.String(queueName),
		AttrPolicy.String(policy),
	}
}

// OperationResultAttributes annotates a metric with an operation outcome.
func OperationResultAttributes(environment, operation, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrOperation.String(operation),
		AttrResult.String(result),
	}
}

// WorkerAttributes annotates pool metrics with a worker state.
func WorkerAttributes(environment, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrWorkerState.String(state),
	}
}

// CallAttributes annotates RPC metrics with the method and outcome.
func CallAttributes(environment, method, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrMethod.String(method),
		AttrResult.String(result),
	}
}
