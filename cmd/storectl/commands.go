package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/service/httpapi"
)

func tokenCmd() *cobra.Command {
	var (
		secret  string
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed admin token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := httpapi.NewAdminToken(secret, subject, ttl, time.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("ADMIN_JWT_SECRET"), "HS256 signing secret")
	cmd.Flags().StringVar(&subject, "subject", "storectl", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

func statusCmd(opts *globalOptions) *cobra.Command {
	var status, payment, note string
	cmd := &cobra.Command{
		Use:   "status <order-id-or-ref>",
		Short: "Update order status, payment status or note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireToken(); err != nil {
				return err
			}
			body := map[string]string{}
			if cmd.Flags().Changed("status") {
				body["status"] = status
			}
			if cmd.Flags().Changed("payment") {
				body["paymentStatus"] = payment
			}
			if cmd.Flags().Changed("note") {
				body["note"] = note
			}
			if len(body) == 0 {
				return errors.New("nothing to update: pass --status, --payment or --note")
			}

			resp, err := opts.client().R().
				SetContext(cmd.Context()).
				SetHeader("Content-Type", "application/json").
				SetBody(body).
				Patch("/orders/" + url.PathEscape(args[0]))
			if err := checkResponse(resp, err); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp.Body())
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "order status ("+joinStatuses()+")")
	cmd.Flags().StringVar(&payment, "payment", "", "payment status (Pending, Paid, Failed, Refunded)")
	cmd.Flags().StringVar(&note, "note", "", "admin note shown to the customer")
	return cmd
}

func joinStatuses() string {
	names := make([]string, 0, len(domain.OrderStatuses))
	for _, s := range domain.OrderStatuses {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}

func trackCmd(opts *globalOptions) *cobra.Command {
	var phone, email string
	var receiptPath string
	cmd := &cobra.Command{
		Use:   "track <reference>",
		Short: "Look up an order the way a customer does",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if phone == "" && email == "" {
				return errors.New("--phone or --email is required")
			}
			query := map[string]string{"ref": args[0]}
			if phone != "" {
				query["phone"] = phone
			}
			if email != "" {
				query["email"] = email
			}

			if receiptPath != "" {
				resp, err := opts.client().R().
					SetContext(cmd.Context()).
					SetQueryParams(query).
					SetOutput(receiptPath).
					Get("/orders/receipt.pdf")
				if err := checkResponse(resp, err); err != nil {
					_ = os.Remove(receiptPath)
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "receipt saved to %s\n", receiptPath)
				return err
			}

			resp, err := opts.client().R().
				SetContext(cmd.Context()).
				SetQueryParams(query).
				Get("/orders/track")
			if err := checkResponse(resp, err); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp.Body())
		},
	}
	cmd.Flags().StringVar(&phone, "phone", "", "customer phone")
	cmd.Flags().StringVar(&email, "email", "", "customer email")
	cmd.Flags().StringVar(&receiptPath, "receipt", "", "download the PDF receipt to this path instead")
	return cmd
}

func timelineCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "timeline <order-id-or-ref>",
		Short: "Show the audit timeline of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireToken(); err != nil {
				return err
			}
			resp, err := opts.client().R().
				SetContext(cmd.Context()).
				Get("/orders/" + url.PathEscape(args[0]) + "/timeline")
			if err := checkResponse(resp, err); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp.Body())
		},
	}
}

func statsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show order counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.requireToken(); err != nil {
				return err
			}
			resp, err := opts.client().R().SetContext(cmd.Context()).Get("/admin/orders/stats")
			if err := checkResponse(resp, err); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp.Body())
		},
	}
}

func eventsCmd() *cobra.Command {
	var (
		brokers    []string
		group      string
		topic      string
		fromOldest bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail order events from Kafka as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(brokers) == 0 {
				return errors.New("--brokers is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			enc := json.NewEncoder(cmd.OutOrStdout())
			consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
				Brokers:    brokers,
				GroupID:    group,
				Topics:     []string{topic},
				FromOldest: fromOldest,
			}, func(_ context.Context, event domain.OrderEvent) error {
				return enc.Encode(event)
			})
			if err != nil {
				return err
			}
			consumer.Start(ctx)
			<-ctx.Done()
			return consumer.Stop()
		},
	}
	cmd.Flags().StringSliceVar(&brokers, "brokers", splitNonEmpty(os.Getenv("KAFKA_BROKERS")), "kafka brokers")
	cmd.Flags().StringVar(&group, "group", "storectl", "consumer group id")
	cmd.Flags().StringVar(&topic, "topic", kafka.TopicOrderEvents, "order events topic")
	cmd.Flags().BoolVar(&fromOldest, "from-oldest", false, "start a new group from the beginning of the topic")
	return cmd
}

func splitNonEmpty(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
