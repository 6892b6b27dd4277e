package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tmckenzie51/sshkit/internal/errors"
	"github.com/tmckenzie51/sshkit/internal/security"
	"github.com/tmckenzie51/sshkit/internal/ui"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect and test the security policy",
	Long: `The security policy gates every connection and command. These
subcommands show the effective policy, test a command against it, and
preview the result of a partial policy update.`,
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective security policy as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		return policyShow()
	},
}

var policyCheckCmd = &cobra.Command{
	Use:   "check <command>",
	Short: "Test a command against the security policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return policyCheck(args[0])
	},
}

var policySetCmd = &cobra.Command{
	Use:   "set <patch.yaml>",
	Short: "Apply a partial policy update and print the merged result",
	Long: `Read a YAML patch file, overlay it on the effective policy, and
print the merged policy. Fields absent from the patch are unchanged.
The merged output can be pasted into .sshkit.yaml under security:.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return policySet(args[0])
	},
}

func init() {
	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policyCheckCmd)
	policyCmd.AddCommand(policySetCmd)
	rootCmd.AddCommand(policyCmd)
}

func policyShow() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(cfg.SecurityPolicy())
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't render the policy as YAML", "")
	}
	fmt.Print(string(out))
	return nil
}

func policyCheck(command string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := newValidator(cfg).ValidateCommand(command); err != nil {
		return err
	}
	fmt.Println(ui.Success(fmt.Sprintf("'%s' is allowed by the current policy", command)))
	return nil
}

func policySet(patchPath string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(patchPath)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Couldn't read the patch file at %s", patchPath),
			"Check the path and permissions")
	}

	var patch security.Patch
	if err := yaml.Unmarshal(data, &patch); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("The patch file at %s isn't valid YAML", patchPath),
			"Field names match the policy keys, e.g. allowed_ports, blocked_commands")
	}

	validator := newValidator(cfg)
	validator.UpdatePolicy(patch)

	out, err := yaml.Marshal(validator.Policy())
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't render the merged policy as YAML", "")
	}
	fmt.Print(string(out))
	return nil
}
