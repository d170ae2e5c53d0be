package dataloader

import (
	"github.com/tsawler/go-palette/vision/dataset"
)

// CreateSharedDataLoaders creates training and evaluation loaders backed by
// one cache. The training loader shuffles with config.Rand, the evaluation
// loader keeps dataset order.
func CreateSharedDataLoaders(trainDataset, evalDataset dataset.Dataset, config Config) (*DataLoader, *DataLoader, error) {
	if config.CacheManager == nil && config.MaxCacheSize >= 0 {
		cacheSize := config.MaxCacheSize
		if cacheSize == 0 {
			cacheSize = trainDataset.Len() + evalDataset.Len()
		}
		config.CacheManager = NewCacheManager(cacheSize)
	}

	trainConfig := config
	trainConfig.Shuffle = true
	trainConfig.Name = "train"
	trainLoader, err := NewDataLoader(trainDataset, trainConfig)
	if err != nil {
		return nil, nil, err
	}

	evalConfig := config
	evalConfig.Shuffle = false
	evalConfig.Name = "eval"
	evalLoader, err := NewDataLoader(evalDataset, evalConfig)
	if err != nil {
		return nil, nil, err
	}
	return trainLoader, evalLoader, nil
}
