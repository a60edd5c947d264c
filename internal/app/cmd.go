package app

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/hitoshi/reposcorer/internal/search"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。引数なしの場合もこれになる。
	CommandServe Command = "serve"
	// CommandSearch は検索を1回実行して結果をJSONで出力することを示す。
	CommandSearch Command = "search"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// searchOptions はsearchコマンドのフラグを保持する。
type searchOptions struct {
	language     string
	createdAfter string
	page         int
	pageSize     int
}

// newRootCmd はreposcorerのルートコマンドを生成する。
// logOutはJSONログの出力先で、検索結果はcmd.OutOrStdout()に書き出す。
func newRootCmd(logOut io.Writer) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "reposcorer",
		Short: "GitHubリポジトリを検索し人気度と鮮度でスコア付けする",
		Long: `reposcorer はGitHubリポジトリ検索APIの結果に
スター数・フォーク数・更新の新しさによるスコアを付けて返すサービスです。

サブコマンドを省略した場合はAPIサーバーとして起動します。`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeCommand(cmd, logOut, configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "設定ファイルのパス（YAML/JSON/TOML）")

	serve := &cobra.Command{
		Use:   string(CommandServe),
		Short: "APIサーバーを起動する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeCommand(cmd, logOut, configPath)
		},
	}

	var opts searchOptions
	searchCmd := &cobra.Command{
		Use:   string(CommandSearch),
		Short: "リポジトリを1ページ分検索してスコア付きの結果をJSONで出力する",
		Example: `  reposcorer search --language go --created-after 2024-01-01
  reposcorer search --language rust --created-after 2023-06-01 --page 2 --page-size 50`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := Init(logOut, configPath)
			if err != nil {
				return err
			}
			return runSearch(cmd.Context(), cmd.OutOrStdout(), cfg, logger, opts)
		},
	}
	searchCmd.Flags().StringVarP(&opts.language, "language", "l", "", "プログラミング言語（必須）")
	searchCmd.Flags().StringVar(&opts.createdAfter, "created-after", "", "この日付より後に作成されたリポジトリ（YYYY-MM-DD、必須）")
	searchCmd.Flags().IntVar(&opts.page, "page", search.DefaultPage, "ページ番号（1以上）")
	searchCmd.Flags().IntVar(&opts.pageSize, "page-size", search.DefaultPageSize, "1ページあたりの件数（1〜100）")
	searchCmd.MarkFlagRequired("language")
	searchCmd.MarkFlagRequired("created-after")

	var port string
	healthcheck := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "稼働中のサーバーの/healthを確認する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// 軽量サブコマンドのため、フル初期化をスキップする
			return runHealthcheck(cmd.Context(), port)
		},
	}
	healthcheck.Flags().StringVar(&port, "port", serverPortFromEnv(), "確認するサーバーのポート")

	root.AddCommand(serve, searchCmd, healthcheck)
	return root
}

func runServeCommand(cmd *cobra.Command, logOut io.Writer, configPath string) error {
	cfg, logger, err := Init(logOut, configPath)
	if err != nil {
		return err
	}
	return runServe(cmd.Context(), cfg, logger)
}
