package zone

import (
	"hazard-watch/internal/models"
)

// Clusterer 点聚类策略接口
// 具体算法是实现选择，引擎不依赖特定算法
type Clusterer interface {
	// Cluster 将点集分组；噪声点不属于任何组
	Cluster(points []models.Point) [][]models.Point
}

// DBSCAN 基于密度的聚类（无需预先指定簇数，容忍噪声点）
type DBSCAN struct {
	Eps       float64 // 邻域半径
	MinPoints int     // 形成核心点的最小邻域点数
}

// NewDBSCAN 创建 DBSCAN 聚类器
func NewDBSCAN(eps float64, minPoints int) *DBSCAN {
	if minPoints < 1 {
		minPoints = 1
	}
	return &DBSCAN{Eps: eps, MinPoints: minPoints}
}

const (
	labelUnvisited = 0
	labelNoise     = -1
)

// Cluster 执行聚类；返回各簇的成员点，噪声点被丢弃
func (d *DBSCAN) Cluster(points []models.Point) [][]models.Point {
	n := len(points)
	if n == 0 {
		return nil
	}

	// labels[i]: 0=未访问, -1=噪声, >0=簇编号
	labels := make([]int, n)
	clusterID := 0

	for i := 0; i < n; i++ {
		if labels[i] != labelUnvisited {
			continue
		}

		neighbors := d.regionQuery(points, i)
		if len(neighbors) < d.MinPoints {
			labels[i] = labelNoise
			continue
		}

		clusterID++
		labels[i] = clusterID

		// 种子扩张
		for qi := 0; qi < len(neighbors); qi++ {
			j := neighbors[qi]
			if labels[j] == labelNoise {
				labels[j] = clusterID // 边界点
			}
			if labels[j] != labelUnvisited {
				continue
			}
			labels[j] = clusterID

			jNeighbors := d.regionQuery(points, j)
			if len(jNeighbors) >= d.MinPoints {
				neighbors = append(neighbors, jNeighbors...)
			}
		}
	}

	if clusterID == 0 {
		return nil
	}

	clusters := make([][]models.Point, clusterID)
	for i, label := range labels {
		if label > 0 {
			clusters[label-1] = append(clusters[label-1], points[i])
		}
	}
	return clusters
}

// regionQuery 返回 points[i] 的 Eps 邻域内所有点下标（含自身）
func (d *DBSCAN) regionQuery(points []models.Point, i int) []int {
	var neighbors []int
	for j := range points {
		if points[i].Dist(points[j]) <= d.Eps {
			neighbors = append(neighbors, j)
		}
	}
	return neighbors
}
