// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

package store

// Cluster groups locations so that every member lies within threshold meters
// of some other member of its group. Groups keep input order.
func Cluster(locs []*ResolvedLocation, threshold float64) [][]*ResolvedLocation {
	clusters := make([][]*ResolvedLocation, 0, len(locs))
	visited := make([]bool, len(locs))

	for i, seed := range locs {
		if visited[i] {
			continue
		}

		visited[i] = true
		cluster := []*ResolvedLocation{seed}

		// members added later are compared too, so chains join one group
		for k := 0; k < len(cluster); k++ {
			member := cluster[k]

			for j, other := range locs {
				if visited[j] {
					continue
				}

				if member.Point.HaversineDistance(&other.Point) <= threshold {
					cluster = append(cluster, other)
					visited[j] = true
				}
			}
		}

		clusters = append(clusters, cluster)
	}

	return clusters
}
