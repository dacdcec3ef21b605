// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newPlaceCommand(root *rootOptions) *cobra.Command {
	var partitions int
	cmd := &cobra.Command{
		Use:   "place",
		Short: "Show the device of each replica (and partition)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := root.newService()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			replicas := service.Options().NumberOfReplicas
			if partitions <= 1 {
				table := newTable(w, "Replica", "Device")
				for replica := range replicas {
					device, err := service.ReplicaNumberToDeviceOrdinal(replica)
					if err != nil {
						return err
					}
					table.Row(strconv.Itoa(replica), strconv.Itoa(device))
				}
				_, err = fmt.Fprintln(w, table.Render())
				return err
			}

			assignment, err := service.Backend().ComputationPlacer().AssignDevices(replicas, partitions)
			if err != nil {
				return err
			}
			headers := []string{"Replica"}
			for partition := range partitions {
				headers = append(headers, "Partition "+strconv.Itoa(partition))
			}
			table := newTable(w, headers...)
			for replica := range replicas {
				row := []string{strconv.Itoa(replica)}
				for partition := range partitions {
					row = append(row, strconv.Itoa(assignment.Get(replica, partition)))
				}
				table.Row(row...)
			}
			_, err = fmt.Fprintln(w, table.Render())
			return err
		},
	}
	cmd.Flags().IntVar(&partitions, "partitions", 1, "Number of partitions (computations) per replica")
	return cmd
}
