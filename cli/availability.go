package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"slot-booking/reservation"
)

func newAvailabilityCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "availability <eventID>",
		Short: "Print the free slots of an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, stores, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer stores.Close(cmd.Context())

			event, err := newManager(cfg, stores, log).Event(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			available, err := reservation.AvailableSlots(event)
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): %d of %d slots available, %d booked\n",
				event.Name, event.Id, available, event.TotalSlots, len(event.BookedSlots))
			return err
		},
	}
}
