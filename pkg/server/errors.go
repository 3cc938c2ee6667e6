package server

import (
	"context"
	"errors"

	"hippo/pkg/acl"
	"hippo/pkg/collection"
	"hippo/pkg/meta"
	"hippo/pkg/metadata"
	"hippo/pkg/product"
	"hippo/pkg/upload"
	"hippo/pkg/versioning"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// errorCodes 领域错误到 gRPC 状态码的映射，按顺序匹配
var errorCodes = []struct {
	err  error
	code codes.Code
}{
	{meta.ErrProductNotFound, codes.NotFound},
	{meta.ErrCollectionNotFound, codes.NotFound},
	{meta.ErrFileRecordNotFound, codes.NotFound},
	{upload.ErrFileNotFound, codes.NotFound},

	{acl.ErrForbidden, codes.PermissionDenied},
	{acl.ErrNotVisible, codes.NotFound},
	{ErrUnauthenticated, codes.Unauthenticated},

	{versioning.ErrVersioning, codes.FailedPrecondition},
	{upload.ErrUploadIncomplete, codes.FailedPrecondition},
	{product.ErrNoChanges, codes.FailedPrecondition},

	{metadata.ErrInvalidSlug, codes.InvalidArgument},
	{metadata.ErrInvalidMetadata, codes.InvalidArgument},
	{metadata.ErrUnknownType, codes.InvalidArgument},
	{product.ErrInvalidPolicy, codes.InvalidArgument},
	{upload.ErrConflictingChange, codes.InvalidArgument},
	{upload.ErrMissingParts, codes.InvalidArgument},
	{upload.ErrSizeMismatch, codes.InvalidArgument},
	{collection.ErrSelfReference, codes.InvalidArgument},
	{collection.ErrCycle, codes.InvalidArgument},

	{upload.ErrFileExists, codes.AlreadyExists},
	{meta.ErrConcurrentUpdate, codes.Aborted},
	{product.ErrBrokenChain, codes.DataLoss},

	{context.Canceled, codes.Canceled},
	{context.DeadlineExceeded, codes.DeadlineExceeded},
}

// ToStatus 把领域错误转换为 gRPC status 错误
// 已经是 status 的错误原样返回，无法识别的错误映射为 Internal
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	for _, m := range errorCodes {
		if errors.Is(err, m.err) {
			return status.Error(m.code, err.Error())
		}
	}
	return status.Error(codes.Internal, err.Error())
}
