package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sudooom.im.realtime/pkg/jwt"
)

var (
	tokenUserID   int64
	tokenDeviceID string
	tokenPlatform string
)

// 登录属于目录服务，这里只为联调签发访问令牌
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an access token for a user (development only)",
	RunE:  runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().Int64Var(&tokenUserID, "user", 0, "user id (required)")
	tokenCmd.Flags().StringVar(&tokenDeviceID, "device", "", "device id")
	tokenCmd.Flags().StringVar(&tokenPlatform, "platform", string(jwt.PlatformWeb), "platform: android|ios|web|desktop")
	_ = tokenCmd.MarkFlagRequired("user")
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, _, err := bootstrap()
	if err != nil {
		return err
	}

	token, expiresAt, err := jwt.NewService(cfg.JWT.SecretKey, cfg.JWT.AccessExpire).
		Issue(tokenUserID, tokenDeviceID, jwt.Platform(tokenPlatform))
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
	return nil
}
