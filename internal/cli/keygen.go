package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/paiban/examplan/internal/security"
	"github.com/paiban/examplan/internal/tenant"
	apperrors "github.com/paiban/examplan/pkg/errors"
	"github.com/paiban/examplan/pkg/logger"
)

// keygenOutput 新生成的密钥，Key 只在此处明文输出一次
type keygenOutput struct {
	Key       string    `json:"key"`
	Tenant    string    `json:"tenant"`
	Name      string    `json:"name"`
	Scopes    []string  `json:"scopes"`
	CreatedAt time.Time `json:"created_at"`
	ConfigKey string    `json:"config_key"`
}

func newKeygenCmd() *cobra.Command {
	var code string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "为考点生成 API 密钥",
		Long:  "按配置加载考点后生成一把新密钥，权限取自考点配置。密钥不落盘，需写入配置文件的 tenants[].keys 或 API_KEYS。",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenants := tenant.NewTenantManager()
			keys := security.NewAPIKeyManager()
			if err := tenant.Setup(cfg, tenants, keys); err != nil {
				return err
			}

			t, err := tenants.Get(code)
			if err != nil {
				return apperrors.NotFound("考点", code)
			}

			key, err := keys.GenerateKey(t.Code, t.Name, t.Settings.Features, nil)
			if err != nil {
				return apperrors.Wrap(err, apperrors.CodeInternal, "生成密钥失败")
			}
			logger.Info().Str("tenant", t.Code).Str("key", security.Mask(key.Key)).Msg("已生成密钥")

			out := keygenOutput{
				Key:       key.Key,
				Tenant:    key.TenantID,
				Name:      key.Name,
				Scopes:    key.Scopes,
				CreatedAt: key.CreatedAt,
				ConfigKey: configHint(t.Code),
			}
			if flagOutput == "json" {
				return writeJSON(cmd, out)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, out.Key)
			fmt.Fprintf(w, "写入 %s 后重启服务生效\n", out.ConfigKey)
			return nil
		},
	}

	cmd.Flags().StringVar(&code, "tenant", tenant.DefaultCode, "考点编码")
	return cmd
}

func configHint(code string) string {
	if code == tenant.DefaultCode {
		return "API_KEYS"
	}
	return fmt.Sprintf("tenants[code=%s].keys", code)
}
