package sender_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonwraymond/sendguard/idempotency"
	"github.com/jonwraymond/sendguard/ledger"
	"github.com/jonwraymond/sendguard/resilience"
	"github.com/jonwraymond/sendguard/sender"
	"github.com/jonwraymond/sendguard/transport"
)

func ExampleCoordinator_Send() {
	tr := transport.Func(func(context.Context, transport.Message) (transport.Receipt, error) {
		return transport.Receipt{MessageID: "<abc@example.com>"}, nil
	})
	coord, _ := sender.New(
		idempotency.NewMemoryStore(idempotency.DefaultPolicy()),
		ledger.NewMemoryLedger(),
		resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}),
		tr,
	)

	req := sender.Request{
		TargetID: "draft-42",
		Message: transport.Message{
			Recipient: "customer@example.com",
			Subject:   "Your order",
			TextBody:  "Shipped.",
		},
	}
	ctx := context.Background()

	first, _ := coord.Send(ctx, req)
	second, _ := coord.Send(ctx, req)
	fmt.Println(first.ResultID, first.Replayed)
	fmt.Println(second.ResultID, second.Replayed)

	req.Message.TextBody = "Shipped today."
	_, err := coord.Send(ctx, req)
	fmt.Println(errors.Is(err, sender.ErrAlreadySent), sender.KindOf(err).HTTPStatus())
	// Output:
	// <abc@example.com> false
	// <abc@example.com> true
	// true 409
}

func ExampleCoordinator_GetRetryStatus() {
	tr := transport.Func(func(context.Context, transport.Message) (transport.Receipt, error) {
		return transport.Receipt{}, resilience.NewCodedError(resilience.CodeInvalidRecipient, "550 no such user", nil)
	})
	coord, _ := sender.New(
		idempotency.NewMemoryStore(idempotency.DefaultPolicy()),
		ledger.NewMemoryLedger(),
		resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}),
		tr,
	)
	ctx := context.Background()

	_, err := coord.Send(ctx, sender.Request{
		TargetID: "draft-7",
		Message:  transport.Message{Recipient: "nobody@example.com", TextBody: "hi"},
	})
	fmt.Println(sender.KindOf(err))

	status, _ := coord.GetRetryStatus(ctx, "draft-7")
	fmt.Println(status.TotalAttempts, status.FailedAttempts, status.HasSuccessfulSend, status.CircuitBreaker.State)
	// Output:
	// transport
	// 1 1 false closed
}
