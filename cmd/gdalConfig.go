package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/osio"
	osioGcs "github.com/airbusgeo/osio/gcs"
	osioS3 "github.com/airbusgeo/osio/s3"
	"github.com/airbusgeo/terrainfetch/interface/storage/s3"
	"github.com/spf13/pflag"
)

type GDALConfig struct {
	BlockSize       string
	NumCachedBlocks int
	WithGCS         bool
	WithS3          bool
	S3              s3.Config
}

const (
	BlockSize       = "gdal-block-size"
	NumCachedBlocks = "gdal-num-cached-blocks"
	WithGCS         = "with-gcs"
	WithS3          = "with-s3"
	AWSRegion       = "aws-region"
	AWSEndPoint     = "aws-endpoint"
	AwsCredentials  = "aws-shared-credentials-file"
)

// GDALConfigFlags binds the GDAL and cloud storage flags to fs
func GDALConfigFlags(fs *pflag.FlagSet) *GDALConfig {
	gdalConfig := GDALConfig{}
	fs.StringVar(&gdalConfig.BlockSize, BlockSize, "1Mb", "block size of the gs:// and s3:// readers")
	fs.IntVar(&gdalConfig.NumCachedBlocks, NumCachedBlocks, 500, "number of blocks cached by the gs:// and s3:// readers")
	fs.BoolVar(&gdalConfig.WithGCS, WithGCS, false, "let GDAL read gs:// rasters (may need authentication)")
	fs.BoolVar(&gdalConfig.WithS3, WithS3, false, "let GDAL read s3:// rasters (may need authentication)")
	fs.StringVar(&gdalConfig.S3.Region, AWSRegion, "", "aws region (s3:// uris)")
	fs.StringVar(&gdalConfig.S3.Endpoint, AWSEndPoint, "", "custom s3 endpoint (s3:// uris)")
	fs.StringVar(&gdalConfig.S3.CredentialsFile, AwsCredentials, "", "aws shared credentials file (s3:// uris)")
	return &gdalConfig
}

// InitGDAL registers the GDAL drivers and the VSI handlers of the cloud storages
func InitGDAL(ctx context.Context, gdalConfig *GDALConfig) error {
	os.Setenv("GDAL_DISABLE_READDIR_ON_OPEN", "EMPTY_DIR")
	godal.RegisterAll()

	if gdalConfig.WithGCS {
		handle, err := osioGcs.Handle(ctx)
		if err != nil {
			return fmt.Errorf("InitGDAL.%w", err)
		}
		if err := registerVSI("gs://", handle, gdalConfig); err != nil {
			return err
		}
	}
	if gdalConfig.WithS3 {
		client, err := s3.NewClient(ctx, gdalConfig.S3)
		if err != nil {
			return fmt.Errorf("InitGDAL.%w", err)
		}
		handle, err := osioS3.Handle(ctx, osioS3.S3Client(client))
		if err != nil {
			return fmt.Errorf("InitGDAL.%w", err)
		}
		if err := registerVSI("s3://", handle, gdalConfig); err != nil {
			return err
		}
	}
	return nil
}

func registerVSI(prefix string, handle osio.KeyStreamerAt, gdalConfig *GDALConfig) error {
	adapter, err := osio.NewAdapter(handle,
		osio.BlockSize(gdalConfig.BlockSize),
		osio.NumCachedBlocks(gdalConfig.NumCachedBlocks))
	if err != nil {
		return fmt.Errorf("InitGDAL.%w", err)
	}
	if err := godal.RegisterVSIHandler(prefix, adapter); err != nil {
		return fmt.Errorf("InitGDAL: %s: %w", prefix, err)
	}
	return nil
}
