package events

import "time"

// GraphQLStart is emitted before executing a GraphQL operation.
type GraphQLStart struct {
	OperationName string
	OperationType string
}

// GraphQLFinish is emitted after executing a GraphQL operation.
type GraphQLFinish struct {
	OperationName string
	OperationType string
	Errors        []error
	Duration      time.Duration
}

// ResolverFinish is emitted by logged resolvers once their call settles.
type ResolverFinish struct {
	ObjectType string
	Field      string
	Err        error
	Duration   time.Duration
}
