package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/storefront/internal/version"
)

type globalOptions struct {
	baseURL string
	token   string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "storectl",
		Short:         "Admin console for the storefront order service",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.baseURL, "url", envOr("STOREFRONT_URL", "http://localhost:8080"), "storefront base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("STOREFRONT_ADMIN_TOKEN"), "admin bearer token")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(
		tokenCmd(),
		statusCmd(opts),
		trackCmd(opts),
		timelineCmd(opts),
		statsCmd(opts),
		eventsCmd(),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func (o *globalOptions) client() *resty.Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(o.baseURL, "/")).
		SetTimeout(o.timeout).
		SetHeader("Accept", "application/json")
	if o.token != "" {
		c.SetAuthToken(o.token)
	}
	return c
}

func (o *globalOptions) requireToken() error {
	if strings.TrimSpace(o.token) == "" {
		return errors.New("admin token is required (--token or STOREFRONT_ADMIN_TOKEN)")
	}
	return nil
}

type apiError struct {
	Error   string   `json:"error"`
	Details []string `json:"details"`
}

// checkResponse превращает ответ с ошибкой в error с текстом сервера.
func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if !resp.IsError() {
		return nil
	}
	var body apiError
	if jsonErr := json.Unmarshal(resp.Body(), &body); jsonErr == nil && body.Error != "" {
		if len(body.Details) > 0 {
			return fmt.Errorf("%s: %s (%s)", resp.Status(), body.Error, strings.Join(body.Details, "; "))
		}
		return fmt.Errorf("%s: %s", resp.Status(), body.Error)
	}
	return fmt.Errorf("unexpected response: %s", resp.Status())
}

// printJSON печатает тело ответа с отступами.
func printJSON(out io.Writer, raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		_, werr := out.Write(raw)
		return werr
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
