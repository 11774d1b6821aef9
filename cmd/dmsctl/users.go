package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bigkaa/dms/internal/domain/model"
	"github.com/bigkaa/dms/internal/domain/rbac"
	"github.com/bigkaa/dms/internal/repository"
	"github.com/bigkaa/dms/internal/service"
)

// cliActor — от его имени dmsctl пишет в журнал аудита.
var cliActor = service.Actor{Username: "dmsctl", Rol: rbac.RoleAdmin, Area: rbac.AreaAdministracion}

// errPasswordMismatch — пароль не совпал (код выхода 1).
var errPasswordMismatch = errors.New("contraseña incorrecta")

func newUsersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Учётные записи usuarios_dms",
	}
	cmd.AddCommand(
		newUsersCreateCmd(a),
		newUsersListCmd(a),
		newUsersDeactivateCmd(a),
		newUsersCheckPasswordCmd(a),
	)
	return cmd
}

// userService собирает UserService поверх пула. Пул закрывает вызывающий через close.
func (a *app) userService(cmd *cobra.Command) (*service.UserService, *repository.Repositories, func(), error) {
	pool, err := a.connect(cmd.Context())
	if err != nil {
		return nil, nil, nil, err
	}
	repos := repository.New(pool)
	svc := service.NewUserService(repository.NewTxRunner(pool), repos.Users, rbac.DefaultMatrix(), a.logger)
	return svc, repos, pool.Close, nil
}

func newUsersCreateCmd(a *app) *cobra.Command {
	var in service.UserInput

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Создать пользователя",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, _, closeFn, err := a.userService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			u, err := svc.Create(cmd.Context(), cliActor, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "usuario creado: id=%d username=%s rol=%s area=%s\n", u.ID, u.Username, u.Rol, u.Area)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&in.Username, "username", "", "логин")
	f.StringVar(&in.Password, "password", "", "пароль (не короче 4 символов)")
	f.StringVar(&in.Rol, "rol", "", "роль (Inspector_LQC, Reparador, Inspector_QA, Admin, ...)")
	f.StringVar(&in.Area, "area", "", "производственная область")
	f.StringVar(&in.NombreCompleto, "nombre", "", "полное имя")
	for _, name := range []string{"username", "password", "rol", "area"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newUsersListCmd(a *app) *cobra.Command {
	var q service.UserQuery

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Список пользователей",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, _, closeFn, err := a.userService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			users, err := svc.List(cmd.Context(), cliActor, q)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tUSERNAME\tNOMBRE\tROL\tAREA\tACTIVO\tULTIMO_ACCESO")
			for _, u := range users {
				last := "-"
				if u.UltimoAcceso != nil {
					last = u.UltimoAcceso.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%t\t%s\n", u.ID, u.Username, u.NombreCompleto, u.Rol, u.Area, u.Activo, last)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&q.Rol, "rol", "", "фильтр по роли")
	cmd.Flags().StringVar(&q.Area, "area", "", "фильтр по области")
	return cmd
}

func newUsersDeactivateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <username>",
		Short: "Деактивировать пользователя (activo = false)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, repos, closeFn, err := a.userService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			u, err := repos.Users.GetByUsername(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("usuario %s: %w", args[0], err)
			}
			if err := svc.Delete(cmd.Context(), cliActor, u.ID, model.DeleteDeactivate); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "usuario %s desactivado\n", u.Username)
			return nil
		},
	}
}

func newUsersCheckPasswordCmd(a *app) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "check-password <username>",
		Short: "Проверить пароль пользователя по bcrypt-хэшу",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, repos, closeFn, err := a.userService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			u, err := repos.Users.GetByUsername(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("usuario %s: %w", args[0], err)
			}
			if !service.CheckPassword(u.PasswordHash, password) {
				return errPasswordMismatch
			}
			fmt.Fprintf(cmd.OutOrStdout(), "contraseña correcta (activo=%t)\n", u.Activo)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "проверяемый пароль")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
